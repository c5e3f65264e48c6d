package models

import (
	"fmt"
	"math"
)

func checkGeometric(name string, p float64) error {
	if p <= 0 || p >= 1 {
		return fmt.Errorf("%s: parameter %v outside (0,1)", name, p)
	}
	return nil
}

// GeometricWordPenalty models the target length with a geometric distribution.
type GeometricWordPenalty struct {
	logP       float64
	logOneMinP float64
}

// NewGeometricWordPenalty creates a word penalty with continuation probability p.
func NewGeometricWordPenalty(p float64) (*GeometricWordPenalty, error) {
	if err := checkGeometric("word penalty", p); err != nil {
		return nil, err
	}
	return &GeometricWordPenalty{logP: math.Log(p), logOneMinP: math.Log(1 - p)}, nil
}

func (g *GeometricWordPenalty) LogProb(n int) float64 {
	return g.logOneMinP + float64(n)*g.logP
}

// SumLogProb is log P(len >= n), which for a geometric law is n*log p.
func (g *GeometricWordPenalty) SumLogProb(n int) float64 {
	return float64(n) * g.logP
}

// GeometricDistortion penalizes jumps geometrically in their absolute size.
type GeometricDistortion struct {
	logP       float64
	logOneMinP float64
}

// NewGeometricDistortion creates a distortion model with parameter p.
func NewGeometricDistortion(p float64) (*GeometricDistortion, error) {
	if err := checkGeometric("distortion", p); err != nil {
		return nil, err
	}
	return &GeometricDistortion{logP: math.Log(p), logOneMinP: math.Log(1 - p)}, nil
}

func (g *GeometricDistortion) JumpLogProb(offset int) float64 {
	if offset < 0 {
		offset = -offset
	}
	return g.logOneMinP + float64(offset)*g.logP
}

// GeometricSegmentLength scores source segment lengths by their difference
// to the target segment length and target segment lengths by their size.
type GeometricSegmentLength struct {
	logP       float64
	logOneMinP float64
}

// NewGeometricSegmentLength creates a segment length model with parameter p.
func NewGeometricSegmentLength(p float64) (*GeometricSegmentLength, error) {
	if err := checkGeometric("segment length", p); err != nil {
		return nil, err
	}
	return &GeometricSegmentLength{logP: math.Log(p), logOneMinP: math.Log(1 - p)}, nil
}

func (g *GeometricSegmentLength) SourceLogProb(srcLen, trgLen int) float64 {
	diff := srcLen - trgLen
	if diff < 0 {
		diff = -diff
	}
	return g.logOneMinP + float64(diff)*g.logP
}

func (g *GeometricSegmentLength) TargetLogProb(trgLen int) float64 {
	if trgLen < 1 {
		trgLen = 1
	}
	return g.logOneMinP + float64(trgLen-1)*g.logP
}

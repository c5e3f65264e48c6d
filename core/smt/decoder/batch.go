package decoder

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Request is one sentence of a batch. Reference or Prefix select the
// decoding mode; Verify turns a reference into a coverage check.
type Request struct {
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Verify    bool   `json:"verify,omitempty"`
}

// BatchItem pairs a request with its outcome.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// Do decodes one request in the mode it selects.
func (d *Decoder) Do(ctx context.Context, r Request) (*Result, error) {
	switch {
	case r.Reference != "" && r.Verify:
		return d.VerifyCoverage(ctx, r.Source, r.Reference)
	case r.Reference != "":
		return d.TranslateWithReference(ctx, r.Source, r.Reference)
	case r.Prefix != "":
		return d.TranslateWithPrefix(ctx, r.Source, r.Prefix)
	default:
		return d.Translate(ctx, r.Source)
	}
}

// BatchTranslate decodes requests concurrently, at most Workers at a time.
// Items keep the order of requests. A failed sentence is reported in its
// item; only cancellation of ctx aborts the batch.
func (d *Decoder) BatchTranslate(ctx context.Context, requests []Request) ([]BatchItem, error) {
	items := make([]BatchItem, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for i, r := range requests {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := d.Do(gctx, r)
			items[i] = BatchItem{Request: r, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	if err := ctx.Err(); err != nil {
		return items, err
	}
	return items, nil
}

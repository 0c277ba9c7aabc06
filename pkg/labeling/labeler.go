// Package labeling names supernodes. Any labeler failure degrades to the
// role and layer range fallback, so callers always get a label.
package labeling

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/metrics"
)

// MaxLabelWords bounds generated labels.
const MaxLabelWords = 5

// ErrEmptyLabel is returned when a labeler produces no usable text.
var ErrEmptyLabel = errors.New("empty label")

// Request carries what a labeler may use to name one supernode.
type Request struct {
	Supernode *grouping.Supernode
	// Members are the loaded nodes of the supernode, in member order.
	Members     []*attribution.Node
	Prompt      string
	TargetLogit string
}

// Labeler produces a short human-readable name for a supernode.
type Labeler interface {
	Label(ctx context.Context, req Request) (string, error)
}

// LabelerFunc adapts a function to Labeler.
type LabelerFunc func(ctx context.Context, req Request) (string, error)

func (f LabelerFunc) Label(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Fallback is the label used when no labeler is configured or it fails.
func Fallback(sn *grouping.Supernode) string {
	return grouping.FallbackLabel(sn.Role, sn.MinLayer(), sn.MaxLayer())
}

// Clean trims a raw model reply to a single line of at most MaxLabelWords
// words without surrounding quotes.
func Clean(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(strings.TrimSpace(line), "\"'`")
	line = strings.TrimPrefix(line, "Label:")
	words := strings.Fields(line)
	if len(words) > MaxLabelWords {
		words = words[:MaxLabelWords]
	}
	return strings.Join(words, " ")
}

// ApplyOptions configures Apply.
type ApplyOptions struct {
	Prompt      string
	TargetLogit string
	// Workers bounds concurrent labeler calls.
	Workers int
	// Timeout bounds each labeler call. Zero means no per-call timeout.
	Timeout time.Duration
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Apply sets the Label of every supernode. A nil labeler, an error or an
// empty reply yields Fallback. It returns how many fallbacks were used.
func Apply(ctx context.Context, l Labeler, g *attribution.Graph, supernodes []*grouping.Supernode, opts ApplyOptions) int {
	logger := logging.OrNop(opts.Logger).With(logging.Component("labeling"))
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	fallback := make([]bool, len(supernodes))
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, sn := range supernodes {
		eg.Go(func() error {
			label, err := labelOne(ctx, l, g, sn, opts)
			if err != nil {
				if l != nil {
					logger.Warn("labeling failed, using fallback", logging.SupernodeID(sn.ID), logging.Error(err))
				}
				label = Fallback(sn)
				fallback[i] = true
			}
			sn.Label = label
			return nil
		})
	}
	// failures fall back per supernode, so tasks never fail
	eg.Wait()

	n := 0
	for _, fb := range fallback {
		if opts.Metrics != nil {
			opts.Metrics.RecordLabel(fb)
		}
		if fb {
			n++
		}
	}
	logger.Info("labeled supernodes", logging.Count(len(supernodes)), logging.Int("fallbacks", n))
	return n
}

func labelOne(ctx context.Context, l Labeler, g *attribution.Graph, sn *grouping.Supernode, opts ApplyOptions) (string, error) {
	if l == nil {
		return "", ErrEmptyLabel
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := Request{Supernode: sn, Prompt: opts.Prompt, TargetLogit: opts.TargetLogit}
	for _, id := range sn.NodeIDs {
		if n, ok := g.Node(id); ok {
			req.Members = append(req.Members, n)
		}
	}

	label, err := l.Label(ctx, req)
	if err != nil {
		return "", err
	}
	if label = Clean(label); label == "" {
		return "", ErrEmptyLabel
	}
	return label, nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/report"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

func newCleanupCmd(a *app) *cobra.Command {
	var (
		flags reductionFlags
		slug  string
		model string
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Fetch a graph from Neuronpedia and reduce it",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(flags.apply, func(ctx context.Context, cmd *cobra.Command) error {
		client, err := a.newSource(ctx)
		if err != nil {
			return err
		}
		doc, _, err := fetchGraph(ctx, client, slug, model)
		if err != nil {
			return err
		}
		return a.reduce(ctx, cmd, client, doc, &flags)
	})

	flags.register(cmd)
	cmd.Flags().StringVar(&slug, "slug", "", "Graph slug on Neuronpedia")
	cmd.Flags().StringVar(&model, "model", "", "Model id of the graph (looked up when empty)")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func newCleanupExistingCmd(a *app) *cobra.Command {
	var (
		flags     reductionFlags
		graphFile string
	)
	cmd := &cobra.Command{
		Use:   "cleanup-existing",
		Short: "Reduce a graph stored in a local file",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(flags.apply, func(ctx context.Context, cmd *cobra.Command) error {
		doc, err := pipeline.LoadDocument(graphFile)
		if err != nil {
			return err
		}
		a.logger.Info("graph loaded", logging.String("path", graphFile),
			logging.NodeCount(len(doc.Nodes)), logging.Int("edges", len(doc.Edges)))

		var client *source.Client
		if flags.send {
			if client, err = a.newSource(ctx); err != nil {
				return err
			}
		}
		return a.reduce(ctx, cmd, client, doc, &flags)
	})

	flags.register(cmd)
	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to the graph JSON (.sz for snappy)")
	_ = cmd.MarkFlagRequired("graph-file")
	return cmd
}

func newGenerateOnlyCmd(a *app) *cobra.Command {
	var slug, model, output string
	cmd := &cobra.Command{
		Use:   "generate-only",
		Short: "Fetch a graph from Neuronpedia and save it without reducing",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(nil, func(ctx context.Context, cmd *cobra.Command) error {
		client, err := a.newSource(ctx)
		if err != nil {
			return err
		}
		doc, raw, err := fetchGraph(ctx, client, slug, model)
		if err != nil {
			return err
		}
		path := output
		if path == "" {
			path = slug + ".json"
		}
		if err := pipeline.WriteFile(path, raw); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved graph %s (%d nodes, %d edges) to %s\n",
			slug, len(doc.Nodes), len(doc.Edges), path)
		return nil
	})

	cmd.Flags().StringVar(&slug, "slug", "", "Graph slug on Neuronpedia")
	cmd.Flags().StringVar(&model, "model", "", "Model id of the graph (looked up when empty)")
	cmd.Flags().StringVar(&output, "output", "", "Output file path (default <slug>.json)")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

// fetchGraph resolves a slug to its download URL and decodes the graph.
func fetchGraph(ctx context.Context, client *source.Client, slug, model string) (*attribution.Document, []byte, error) {
	info, err := client.GraphMetadata(ctx, slug, model)
	if err != nil {
		return nil, nil, fmt.Errorf("graph metadata: %w", err)
	}
	if info.URL == "" {
		return nil, nil, fmt.Errorf("graph %s has no download url", slug)
	}
	raw, err := client.DownloadGraph(ctx, info.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("download graph: %w", err)
	}
	doc, err := attribution.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode graph %s: %w", slug, err)
	}
	return doc, raw, nil
}

// reduce runs the pipeline on doc, writes the output document, prints the
// report and optionally saves the circuit as a subgraph.
func (a *app) reduce(ctx context.Context, cmd *cobra.Command, client *source.Client, doc *attribution.Document, flags *reductionFlags) error {
	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	res, err := p.Run(ctx, doc)
	if err != nil {
		return err
	}

	if err := pipeline.WriteJSON(flags.output, res.Output()); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := report.Result(out, res); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved cleaned graph to: %s\n", flags.output)

	if !flags.send {
		return nil
	}
	if client == nil {
		return errors.New("no graph source configured")
	}
	payload := source.CircuitPayload(doc.Metadata, res.Reduction.Supernodes, res.Reduction.Pinned)
	saved, err := client.SaveSubgraph(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved subgraph %s %s\n", saved.SubgraphID, saved.URL)
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/report"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		graphFile string
		hubLayer  int
		hubCtx    int
		hubCount  int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print graph statistics, the most important nodes, hubs and flows",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(nil, func(_ context.Context, cmd *cobra.Command) error {
		doc, err := pipeline.LoadDocument(graphFile)
		if err != nil {
			return err
		}
		p, err := pipeline.New(a.cfg, pipeline.Options{Logger: a.logger, Metrics: a.metrics})
		if err != nil {
			return err
		}
		an := p.Analyze(doc)

		in := report.NewAnalysisInput(an, doc.Metadata)
		if cmd.Flags().Changed("hub-layer") {
			ctx := hubCtx
			if !cmd.Flags().Changed("hub-ctx") {
				ctx = len(doc.Metadata.PromptTokens) - 1
			}
			in.HubSample = an.SampleHubs(hubLayer, ctx, hubCount)
			in.HubSampleLayer, in.HubSampleCtx = hubLayer, ctx
		}
		return report.Analysis(cmd.OutOrStdout(), in)
	})

	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to the graph JSON (.sz for snappy)")
	cmd.Flags().IntVar(&hubLayer, "hub-layer", 0, "Sample the highest in-degree nodes on this layer")
	cmd.Flags().IntVar(&hubCtx, "hub-ctx", 0, "Token position of the hub sample (default the last prompt token)")
	cmd.Flags().IntVar(&hubCount, "hub-count", 5, "Size of the hub sample")
	_ = cmd.MarkFlagRequired("graph-file")
	return cmd
}

func newSupernodesCmd(a *app) *cobra.Command {
	var graphFile, output string
	var send bool
	cmd := &cobra.Command{
		Use:   "supernodes",
		Short: "Group features by layer and token position into a subgraph payload",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(nil, func(ctx context.Context, cmd *cobra.Command) error {
		doc, err := pipeline.LoadDocument(graphFile)
		if err != nil {
			return err
		}
		payload := source.LayerContextPayload(doc)

		out := cmd.OutOrStdout()
		if err := report.Payload(out, payload); err != nil {
			return err
		}
		if output != "" {
			if err := pipeline.WriteJSON(output, payload); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved payload to: %s\n", output)
		}
		if !send {
			return nil
		}

		client, err := a.newSource(ctx)
		if err != nil {
			return err
		}
		saved, err := client.SaveSubgraph(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved subgraph %s %s\n", saved.SubgraphID, saved.URL)
		return nil
	})

	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to the graph JSON (.sz for snappy)")
	cmd.Flags().StringVar(&output, "output", "", "Also write the payload to this file")
	cmd.Flags().BoolVar(&send, "send", false, "Save the payload as a Neuronpedia subgraph")
	_ = cmd.MarkFlagRequired("graph-file")
	return cmd
}

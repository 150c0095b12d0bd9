// Command agentflow wires the configuration, logging, model client, tool
// registry, and scheduler into a runnable process. This binary runs one
// illustrative workflow and exits; real deployments embed the same
// internal/* packages behind their own entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alfredcs/AgentFlow/internal/agent"
	"github.com/alfredcs/AgentFlow/internal/config"
	"github.com/alfredcs/AgentFlow/internal/engine"
	"github.com/alfredcs/AgentFlow/internal/logging"
	"github.com/alfredcs/AgentFlow/internal/modelclient"
	"github.com/alfredcs/AgentFlow/internal/reasoning"
	"github.com/alfredcs/AgentFlow/internal/tools"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

func main() {
	env, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if overlay := os.Getenv("AGENTFLOW_CONFIG_FILE"); overlay != "" {
		env, err = config.LoadOverlay(env, overlay)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config overlay:", err)
			os.Exit(1)
		}
	}

	logging.Configure(logging.Options{
		Verbosity:         env.LogVerbosity,
		RemoteLogEnabled:  env.RemoteLogEnabled,
		RemoteLogGroup:    env.RemoteLogGroup,
		RemoteLogEndpoint: env.RemoteLogEndpoint,
	})
	log := logging.L()

	registry := tools.NewRegistry()
	if err := registerBuiltinTools(registry); err != nil {
		log.Error("tool registration failed", "error", err)
		os.Exit(1)
	}

	provider := modelclient.NewHTTPProvider(providerBaseURL(), 16)
	client := modelclient.New(provider, modelclient.RetryConfig{
		MaxAttempts: env.MaxModelRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    20 * time.Second,
	})

	wf, err := buildSampleWorkflow(client, registry, env)
	if err != nil {
		log.Error("workflow construction failed", "error", err)
		os.Exit(1)
	}

	ctx := logging.WithWorkflowID(context.Background(), wf.ID)
	bundle, err := wf.Execute(ctx)
	if err != nil {
		log.Error("workflow execution errored", "error", err)
		os.Exit(1)
	}

	log.Info("workflow finished", "workflow_id", bundle.WorkflowID, "status", bundle.Status, "steps", bundle.Metrics.TotalSteps)
	if bundle.Status != schema.WorkflowCompleted {
		os.Exit(1)
	}
}

func providerBaseURL() string {
	if v := os.Getenv("MODEL_PROVIDER_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// registerBuiltinTools installs the small tool surface the sample
// workflow's agents may call.
func registerBuiltinTools(registry *tools.Registry) error {
	lookup := tools.NewBuilder("lookup_reference", "Looks up short reference material for a topic").
		WithString("topic", "subject to look up", true).
		Build(func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("reference material for %v", args["topic"]), nil
		}, "")
	return registry.Register(lookup)
}

// buildSampleWorkflow assembles a two-step pipeline: a research step
// feeding a summarization step, matching the sequential-dependency
// scenario of the worked examples.
func buildSampleWorkflow(client modelclient.Client, registry *tools.Registry, env config.Environment) (*engine.Workflow, error) {
	policy := schema.DefaultExecutionPolicy()
	policy.DefaultStepTimeout = env.DefaultStepTimeout
	policy.WorkflowTimeout = env.DefaultWorkflowTimeout

	wf, err := engine.New("research-and-summarize", policy)
	if err != nil {
		return nil, err
	}

	researcher := agent.New("researcher", "Researcher", agent.Config{
		Model:        schema.ModelFastCheap,
		MaxTokens:    512,
		SystemPrompt: "You gather concise factual notes on a topic.",
		Pattern:      reasoning.ChainOfThought,
		ToolNames:    []string{"lookup_reference"},
	}, "Research the topic: {topic}", client, registry)

	summarizer := agent.New("summarizer", "Summarizer", agent.Config{
		Model:        schema.ModelCapable,
		MaxTokens:    256,
		SystemPrompt: "You summarize research notes into three bullet points.",
	}, "Summarize these notes: {research_result}", client, registry)

	researchStep := engine.NewStep("research", researcher, map[string]any{"topic": "agentic workflow orchestration"}, nil)
	summarizeStep := engine.NewStep("summarize", summarizer, nil, []string{"research"})

	if err := wf.AddStep(researchStep); err != nil {
		return nil, err
	}
	if err := wf.AddStep(summarizeStep); err != nil {
		return nil, err
	}
	return wf, nil
}

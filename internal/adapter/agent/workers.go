package agent

import (
	"context"

	"campaignflow/internal/domain"
)

// workerRole binds a router worker id to its capability tags and the
// directive sent to the backing agent. The persona/prompt text itself is
// collaborator configuration, not core logic.
type workerRole struct {
	id     string
	tags   []string
	prompt string
}

var marketingRoles = []workerRole{
	{"researcher", []string{"research", "discovery"},
		"Research the market context for the task. Summarize audience, competitors, and channel opportunities."},
	{"analyst", []string{"analytics", "reporting"},
		"Analyze the task and any prior findings. Surface the metrics and trade-offs that should drive the work."},
	{"copywriter", []string{"content", "copywriting"},
		"Draft the marketing copy or content the task asks for, building on all prior findings."},
	{"optimizer", []string{"optimization", "conversion"},
		"Refine the draft for clarity, conversion, and channel fit. Preserve the message, tighten the execution."},
	{"reviewer", []string{"review", "compliance"},
		"Review the accumulated work for quality, consistency, and brand safety. Return the final version with notes."},
	{"generalist", []string{"general"},
		"Give the task a final generalist pass: fill gaps, resolve loose ends, and present a cohesive result."},
	{"seo-specialist", []string{"seo", "search"},
		"Apply search-engine expertise: keywords, intent, structure, and ranking considerations."},
	{"social-media-manager", []string{"social", "engagement"},
		"Shape the work for social channels: platform conventions, hooks, hashtags, and engagement mechanics."},
	{"email-marketer", []string{"email", "lifecycle"},
		"Shape the work for email: subject lines, preview text, segmentation, and send cadence."},
	{"brand-strategist", []string{"strategy", "brand"},
		"Set strategic direction: positioning, messaging pillars, and how the task ladders up to brand goals."},
}

// MarketingWorkers builds the standard worker pool, each worker backed by the
// given agent invoker under its own agent id.
func MarketingWorkers(agents domain.AgentInvoker) []*domain.WorkerDescriptor {
	workers := make([]*domain.WorkerDescriptor, 0, len(marketingRoles))
	for _, role := range marketingRoles {
		role := role
		workers = append(workers, &domain.WorkerDescriptor{
			ID:             role.id,
			Description:    role.prompt,
			CapabilityTags: role.tags,
			Invoke: func(ctx context.Context, task string, taskContext any) (any, error) {
				return agents.Generate(ctx, role.id, role.prompt+"\n\nTask: "+task, taskContext)
			},
		})
	}
	return workers
}

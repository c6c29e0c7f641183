package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"engagement-hub/internal/adapters/apiclient"
	"engagement-hub/internal/domain"
	httpinfra "engagement-hub/internal/infra/http"
	"engagement-hub/internal/usecase/workflow"
)

func newClient(cmd *cli.Command) (*apiclient.Client, error) {
	return apiclient.New(cmd.String("api"),
		apiclient.WithToken(cmd.String("token")),
		apiclient.WithScope(cmd.String("scope")),
	)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	arg := strings.TrimSpace(cmd.Args().First())
	if arg == "" {
		return "", fmt.Errorf("не указан %s", name)
	}
	return arg, nil
}

func jobsStartAction(ctx context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	job, err := client.StartJob(ctx, domain.JobKind(cmd.String("kind")), domain.JobParams{
		Keywords:    cmd.StringSlice("keyword"),
		Communities: cmd.StringSlice("community"),
		Limit:       cmd.Int("limit"),
	})
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.ActiveJobID != "" {
			return fmt.Errorf("%w (активная задача %s)", err, apiErr.ActiveJobID)
		}
		return err
	}
	fmt.Printf("✓ задача запущена: %s\n", job.ID)
	if !cmd.Bool("wait") {
		return nil
	}
	return waitAndReport(ctx, cmd, client, job.ID)
}

func jobsStatusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "JOB_ID")
	if err != nil {
		return err
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("wait") {
		return waitAndReport(ctx, cmd, client, id)
	}
	job, err := client.GetJob(ctx, id)
	if err != nil {
		return err
	}
	renderJobs([]domain.Job{job})
	return nil
}

func waitAndReport(ctx context.Context, cmd *cli.Command, client *apiclient.Client, id string) error {
	last := -1
	job, err := client.WaitJob(ctx, id, cmd.Duration("interval"), func(j domain.Job) {
		if j.Progress != last {
			fmt.Printf("  %s: %d%% (сохранено %d, пропущено %d)\n", j.Status, j.Progress, j.ResultCount, j.SkippedCount)
			last = j.Progress
		}
	})
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusFailed {
		return fmt.Errorf("задача %s завершилась ошибкой: %s", job.ID, job.Error)
	}
	fmt.Printf("✓ задача %s завершена: сохранено %d, пропущено %d\n", job.ID, job.ResultCount, job.SkippedCount)
	return nil
}

func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs(ctx, domain.JobFilter{
		Kind:   domain.JobKind(cmd.String("kind")),
		Status: domain.JobStatus(cmd.String("status")),
		Limit:  cmd.Int("limit"),
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("задач нет")
		return nil
	}
	renderJobs(jobs)
	return nil
}

func renderJobs(jobs []domain.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Kind", "Status", "Progress", "Stored", "Skipped", "Created At", "Error")
	for _, j := range jobs {
		table.Append(
			j.ID,
			string(j.Kind),
			string(j.Status),
			fmt.Sprintf("%d%%", j.Progress),
			fmt.Sprintf("%d", j.ResultCount),
			fmt.Sprintf("%d", j.SkippedCount),
			j.CreatedAt.Format("2006-01-02 15:04"),
			clip(j.Error, 60),
		)
	}
	table.Render()
}

func itemsListAction(ctx context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	filter := domain.ItemFilter{
		Community: cmd.String("community"),
		Before:    cmd.String("before"),
		Limit:     cmd.Int("limit"),
	}
	for _, s := range cmd.StringSlice("status") {
		filter.Statuses = append(filter.Statuses, domain.ItemStatus(s))
	}
	items, err := client.ListItems(ctx, filter)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("элементов нет")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Community", "Score", "Rec", "Title")
	for _, it := range items {
		score := "-"
		if it.RelevanceScore != nil {
			score = fmt.Sprintf("%.1f", *it.RelevanceScore)
		}
		rec := ""
		if it.IsRecommended {
			rec = "★"
		}
		table.Append(it.ID, string(it.Status), it.Community, score, rec, clip(it.Title, 50))
	}
	table.Render()
	return nil
}

func itemsShowAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.GetItem(ctx, id)
	})
}

func itemsAnalyzeAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.Analyze(ctx, id)
	})
}

func itemsDraftAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.GenerateDraft(ctx, id, workflow.DraftRequest{
			AccountID: cmd.String("account"),
			Options: domain.DraftOptions{
				Length:       cmd.String("length"),
				Style:        cmd.String("style"),
				Voice:        cmd.String("voice"),
				Instructions: cmd.String("instructions"),
			},
		})
	})
}

func itemsEditAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.EditDraft(ctx, id, cmd.String("text"))
	})
}

func itemsRefineAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.Refine(ctx, id, workflow.RefineRequest{
			Action:      domain.RefineAction(cmd.String("action")),
			TargetStyle: cmd.String("style"),
		})
	})
}

func itemsSubmitAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.SubmitForReview(ctx, id, cmd.String("reviewer"))
	})
}

func itemsApproveAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.Approve(ctx, id, reviewFrom(cmd))
	})
}

func itemsRejectAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.Reject(ctx, id, reviewFrom(cmd))
	})
}

func itemsPublishAction(ctx context.Context, cmd *cli.Command) error {
	return itemCall(ctx, cmd, func(c *apiclient.Client, id string) (domain.EngagementItem, error) {
		return c.Publish(ctx, id)
	})
}

func reviewFrom(cmd *cli.Command) workflow.Review {
	return workflow.Review{ReviewerID: cmd.String("reviewer"), Notes: cmd.String("notes")}
}

// itemCall выполняет операцию над элементом из первого аргумента и печатает результат.
func itemCall(ctx context.Context, cmd *cli.Command, op func(*apiclient.Client, string) (domain.EngagementItem, error)) error {
	id, err := requireArg(cmd, "ID")
	if err != nil {
		return err
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	item, err := op(client, id)
	if item.ID != "" {
		renderItem(item)
	}
	return err
}

func renderItem(it domain.EngagementItem) {
	fmt.Printf("ID:          %s\n", it.ID)
	fmt.Printf("Status:      %s\n", it.Status)
	fmt.Printf("Community:   %s (post %s)\n", it.Community, it.SourcePostID)
	fmt.Printf("Title:       %s\n", it.Title)
	if it.RelevanceScore != nil {
		fmt.Printf("Score:       %.1f recommended=%t low_relevance=%t\n", *it.RelevanceScore, it.IsRecommended, it.LowRelevance)
	}
	if it.AnalysisSummary != "" {
		fmt.Printf("Analysis:    %s\n", it.AnalysisSummary)
	}
	if it.AssignedAccountID != "" {
		fmt.Printf("Account:     %s\n", it.AssignedAccountID)
	}
	if it.ReviewerID != "" || it.ReviewerNotes != "" {
		fmt.Printf("Reviewer:    %s %s\n", it.ReviewerID, it.ReviewerNotes)
	}
	if it.PublishedReferenceID != "" {
		fmt.Printf("Published:   %s\n", it.PublishedReferenceID)
	}
	if it.LastError != "" {
		fmt.Printf("Last error:  %s\n", it.LastError)
	}
	if draft := it.CurrentDraft(); draft != "" {
		fmt.Printf("\n%s\n", draft)
	}
}

func batchAction(action workflow.BatchAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		ids := cmd.Args().Slice()
		if len(ids) == 0 {
			return fmt.Errorf("не указаны ID")
		}
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		outcomes, err := client.Batch(ctx, action, ids, reviewFrom(cmd))
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Outcome", "Code", "Detail")
		failed := 0
		for _, o := range outcomes {
			if o.Result == workflow.OutcomeError {
				failed++
			}
			table.Append(o.ItemID, o.Result, o.Code, clip(o.Detail, 60))
		}
		table.Render()
		if failed > 0 {
			return fmt.Errorf("%d из %d элементов с ошибкой", failed, len(outcomes))
		}
		return nil
	}
}

func channelsListAction(ctx context.Context, cmd *cli.Command) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	channels, err := client.ListChannels(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("каналов нет")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Alias", "Title", "Participants", "Keyword", "Discovered At")
	for _, ch := range channels {
		table.Append(
			"@"+ch.Alias,
			clip(ch.Title, 40),
			fmt.Sprintf("%d", ch.Participants),
			ch.MatchedKeyword,
			ch.DiscoveredAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	return nil
}

func tokenAction(_ context.Context, cmd *cli.Command) error {
	scope := strings.TrimSpace(cmd.String("scope"))
	if scope == "" {
		return fmt.Errorf("укажите --scope")
	}
	token, err := httpinfra.IssueToken(cmd.String("secret"), httpinfra.Principal{
		Subject: cmd.String("sub"),
		Scope:   scope,
		Role:    domain.ParseRole(cmd.String("role")),
	}, cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func clip(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit-1]) + "…"
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "engagectl",
		Usage: "управление задачами и ответами engagement-hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "адрес HTTP API",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("ENGAGE_API_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer-токен",
				Sources: cli.EnvVars("ENGAGE_API_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "scope",
				Usage:   "область (только без AUTH_JWT_SECRET на сервере)",
				Sources: cli.EnvVars("ENGAGE_SCOPE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "jobs",
				Usage: "фоновые задачи",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "запустить задачу",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "kind",
								Usage:    "content-discovery, channel-discovery или analytics-sync",
								Required: true,
							},
							&cli.StringSliceFlag{Name: "keyword", Usage: "ключевое слово (можно повторять)"},
							&cli.StringSliceFlag{Name: "community", Usage: "сообщество @alias или t.me/alias (можно повторять)"},
							&cli.IntFlag{Name: "limit", Usage: "предел записей на запрос"},
							&cli.BoolFlag{Name: "wait", Usage: "дождаться завершения"},
							intervalFlag(),
						},
						Action: jobsStartAction,
					},
					{
						Name:      "status",
						Usage:     "состояние задачи",
						ArgsUsage: "JOB_ID",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "wait", Usage: "опрашивать до завершения"},
							intervalFlag(),
						},
						Action: jobsStatusAction,
					},
					{
						Name:  "list",
						Usage: "список задач",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "kind", Usage: "тип задачи"},
							&cli.StringFlag{Name: "status", Usage: "статус задачи"},
							&cli.IntFlag{Name: "limit", Value: 20},
						},
						Action: jobsListAction,
					},
				},
			},
			{
				Name:  "items",
				Usage: "найденные публикации и ответы",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "список элементов",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "status", Usage: "статус (можно повторять)"},
							&cli.StringFlag{Name: "community"},
							&cli.StringFlag{Name: "before", Usage: "курсор: id последнего элемента прошлой страницы"},
							&cli.IntFlag{Name: "limit", Value: 50},
						},
						Action: itemsListAction,
					},
					{Name: "show", Usage: "показать элемент", ArgsUsage: "ID", Action: itemsShowAction},
					{Name: "analyze", Usage: "оценить релевантность", ArgsUsage: "ID", Action: itemsAnalyzeAction},
					{
						Name:      "draft",
						Usage:     "сгенерировать черновик",
						ArgsUsage: "ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "account", Usage: "аккаунт для публикации"},
							&cli.StringFlag{Name: "length", Usage: "short, medium или long"},
							&cli.StringFlag{Name: "style"},
							&cli.StringFlag{Name: "voice"},
							&cli.StringFlag{Name: "instructions"},
						},
						Action: itemsDraftAction,
					},
					{
						Name:      "edit",
						Usage:     "заменить текст ответа",
						ArgsUsage: "ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "text", Required: true},
						},
						Action: itemsEditAction,
					},
					{
						Name:      "refine",
						Usage:     "доработать черновик",
						ArgsUsage: "ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "action", Usage: "shorten, expand или restyle", Required: true},
							&cli.StringFlag{Name: "style", Usage: "целевой стиль для restyle"},
						},
						Action: itemsRefineAction,
					},
					{
						Name:      "submit",
						Usage:     "передать на ревью",
						ArgsUsage: "ID",
						Flags:     []cli.Flag{&cli.StringFlag{Name: "reviewer"}},
						Action:    itemsSubmitAction,
					},
					{Name: "approve", Usage: "одобрить", ArgsUsage: "ID", Flags: reviewFlags(), Action: itemsApproveAction},
					{Name: "reject", Usage: "отклонить", ArgsUsage: "ID", Flags: reviewFlags(), Action: itemsRejectAction},
					{Name: "publish", Usage: "опубликовать одобренный ответ", ArgsUsage: "ID", Action: itemsPublishAction},
					{Name: "batch-approve", Usage: "одобрить несколько элементов", ArgsUsage: "ID...", Flags: reviewFlags(), Action: batchAction("approve")},
					{Name: "batch-reject", Usage: "отклонить несколько элементов", ArgsUsage: "ID...", Flags: reviewFlags(), Action: batchAction("reject")},
				},
			},
			{
				Name:  "channels",
				Usage: "найденные каналы",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "список каналов",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
						Action: channelsListAction,
					},
				},
			},
			{
				Name:  "token",
				Usage: "выпустить токен доступа (нужен секрет сервера)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Required: true, Sources: cli.EnvVars("AUTH_JWT_SECRET")},
					&cli.StringFlag{Name: "sub", Required: true},
					&cli.StringFlag{Name: "role", Value: "viewer", Usage: "viewer, reviewer, publisher или admin"},
					&cli.DurationFlag{Name: "ttl", Value: 30 * 24 * time.Hour},
				},
				Action: tokenAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ошибка:", err)
		os.Exit(1)
	}
}

func intervalFlag() cli.Flag {
	return &cli.DurationFlag{Name: "interval", Usage: "период опроса", Value: 2 * time.Second}
}

func reviewFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "reviewer", Usage: "ревьюер (по умолчанию владелец токена)"},
		&cli.StringFlag{Name: "notes", Usage: "комментарий"},
	}
}

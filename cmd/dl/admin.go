package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"doerline/internal/config"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
	"doerline/internal/migrate"
	"doerline/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed the system actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			v, err := migrate.Version(a.DB)
			if err != nil {
				return err
			}
			fmt.Printf("database at version %d (%s)\n", v, a.Driver)
			return nil
		},
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage actors and API keys"}
	cmd.AddCommand(actorCreateCmd())
	cmd.AddCommand(actorListCmd())
	cmd.AddCommand(actorPasswordCmd())
	cmd.AddCommand(actorAvailabilityCmd())
	cmd.AddCommand(actorKeyCmd())
	return cmd
}

func actorCreateCmd() *cobra.Command {
	var in engine.NewActor
	var role string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ID = args[0]
			in.Role = lifecycle.Role(role)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				created, err := e.CreateActor(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "doer, supervisor, client or system")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().BoolVar(&in.Available, "available", false, "doer starts available")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				var r lifecycle.Role
				if role != "" {
					parsed, err := lifecycle.ParseRole(role)
					if err != nil {
						return err
					}
					r = parsed
				}
				items, err := e.ListActors(ctx, actor, r)
				if err != nil {
					return err
				}
				return printActors(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func actorPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "set-password <id>",
		Short: "Set an actor's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.SetPassword(ctx, actor, args[0], password); err != nil {
					return err
				}
				fmt.Println("password updated")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password")
	return cmd
}

func actorAvailabilityCmd() *cobra.Command {
	var available bool
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Mark the --actor-id doer available or busy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				updated, err := e.SetAvailability(ctx, actor, available)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().BoolVar(&available, "available", true, "availability")
	return cmd
}

func actorKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Create an API key; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": key, "secret": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list <actor-id>",
		Short: "List API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				keys, err := e.ListAPIKeys(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.RevokeAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

func quoteCmd() *cobra.Command {
	var words, pages int
	var deadline string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Run the quote calculator",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.QuoteInput
			if cmd.Flags().Changed("words") {
				in.WordCount = &words
			}
			if cmd.Flags().Changed("pages") {
				in.PageCount = &pages
			}
			if deadline != "" {
				d, err := parseDeadlineFlag(deadline)
				if err != nil {
					return err
				}
				in.Deadline = d.Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				q, err := e.PreviewQuote(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().IntVar(&words, "words", 0, "word count")
	cmd.Flags().IntVar(&pages, "pages", 0, "page count")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as RFC 3339 or a duration from now")
	return cmd
}

func pricingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pricing", Short: "Pricing configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored pricing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				cfg, err := e.PricingConfig(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	})
	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored pricing with the pricing section of a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				stored, err := e.UpdatePricingConfig(ctx, actor, cfg.Pricing)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	imp.Flags().StringVarP(&file, "file", "f", "", "config file (defaults to the workspace doerline.yml)")
	cmd.AddCommand(imp)
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Project chat"}
	cmd.AddCommand(&cobra.Command{
		Use:   "send <project-id> <message>",
		Short: "Post a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				msg, err := e.SendMessage(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	})
	var limit int
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List messages, newest first, and mark them read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				items, err := e.ListMessages(ctx, actor, args[0], limit, "", "")
				if err != nil {
					return err
				}
				if err := e.MarkRead(ctx, actor, args[0]); err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "number of messages")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "unread",
		Short: "Unread message counts per project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				counts, err := e.UnreadCounts(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	})
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Project counts, earnings and unread messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.DashboardStats(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every status change, quote, payment, message and setting update, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				events, err := e.ListEvents(ctx, actor, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration (doerline.yml)"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default doerline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	validate.Flags().StringVarP(&file, "file", "f", "", "config file")
	cmd.AddCommand(validate)
	return cmd
}

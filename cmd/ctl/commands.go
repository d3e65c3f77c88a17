package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/database"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/cron"
)

type opener func(configPath string) (*app, error)

func newRootCmd(open opener) *cobra.Command {
	var configPath string
	var a *app

	root := &cobra.Command{
		Use:          "ctl",
		Short:        "AIGC server maintenance commands",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = open(configPath)
			return err
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "config file path")

	get := func() *app { return a }
	root.AddCommand(
		migrateCmd(get),
		promoteCmd(get),
		grantCreditsCmd(get),
		reconcileCmd(get),
		cleanupCmd(get),
	)
	return root
}

// migrateCmd 同步表结构
func migrateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := database.AutoMigrate(get().db); err != nil {
				return err
			}
			cmd.Println("migration completed")
			return nil
		},
	}
}

// promoteCmd 设置或取消管理员
func promoteCmd(get func() *app) *cobra.Command {
	var demote bool
	cmd := &cobra.Command{
		Use:   "promote <email>",
		Short: "Grant the admin role to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := findUser(get(), args[0])
			if err != nil {
				return err
			}
			role := model.RoleAdmin
			if demote {
				role = model.RoleUser
			}
			if err := get().users.UpdateFields(user.ID, map[string]interface{}{"role": role}); err != nil {
				return err
			}
			cmd.Printf("user %s (id=%d) role set to %s\n", args[0], user.ID, role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demote, "demote", false, "remove the admin role instead")
	return cmd
}

// grantCreditsCmd 给用户补发积分
func grantCreditsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-credits <email> <amount>",
		Short: "Add credits to a user's current period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			a := get()
			user, err := findUser(a, args[0])
			if err != nil {
				return err
			}
			if _, err := a.credits.Ensure(user.ID, user.Plan); err != nil {
				return err
			}
			credit, err := a.credits.Grant(user.ID, amount)
			if err != nil {
				return err
			}
			cmd.Printf("granted %d credits to %s, remaining %d/%d\n",
				amount, args[0], credit.Total-credit.Used, credit.Total)
			return nil
		},
	}
}

// reconcileCmd 按本地订阅重新计算套餐
func reconcileCmd(get func() *app) *cobra.Command {
	var userID int64
	var all bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute plan and credits from stored subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()

			var ids []int64
			switch {
			case userID > 0:
				ids = []int64{userID}
			case all:
				subs, err := a.subs.ListEntitled(time.Now(), time.Duration(a.cfg.Billing.GraceDays)*24*time.Hour)
				if err != nil {
					return err
				}
				seen := make(map[int64]bool)
				for _, s := range subs {
					if !seen[s.UserID] {
						seen[s.UserID] = true
						ids = append(ids, s.UserID)
					}
				}
			default:
				return errors.New("either --user or --all is required")
			}

			failed := 0
			for _, id := range ids {
				if err := a.billing.Reconcile(ctx, id); err != nil {
					failed++
					cmd.PrintErrf("user %d: %v\n", id, err)
				}
			}
			cmd.Printf("reconciled %d users, %d failed\n", len(ids)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d users failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to reconcile")
	cmd.Flags().BoolVar(&all, "all", false, "reconcile every user with an entitled subscription")
	return cmd
}

// cleanupCmd 立即执行一次定时任务，--dry-run 只列出会处理的对象
func cleanupCmd(get func() *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Roll credit periods, expire lapsed subscriptions, fail stale image jobs, remove local files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			svc := cron.NewService(a.credits, a.billing, a.images, nil, a.cfg)

			if dryRun {
				stale, err := a.images.ListStale(time.Now().Add(-cron.StaleImageAfter))
				if err != nil {
					return err
				}
				for _, img := range stale {
					cmd.Printf("stale image %d (user %d, %s)\n", img.ID, img.UserID, img.Status)
				}
				files, err := svc.OrphanLocalImages()
				if err != nil {
					return err
				}
				for _, path := range files {
					cmd.Printf("orphan file %s\n", path)
				}
				cmd.Printf("dry run: %d stale images, %d orphan files\n", len(stale), len(files))
				return nil
			}

			if err := svc.RunNow(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("cleanup completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only print what would be changed")
	return cmd
}

func findUser(a *app, email string) (*model.User, error) {
	user, err := a.users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s not found", email)
		}
		return nil, err
	}
	return user, nil
}

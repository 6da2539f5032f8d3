package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"magpie/internal/analytics"
	"magpie/internal/api"
	"magpie/internal/cmdlog"
	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/platform"
	"magpie/internal/quota"
	"magpie/internal/scheduler"
	"magpie/internal/store"
	"magpie/internal/theme"
	"magpie/internal/timer"
)

func main() {
	_ = godotenv.Load()

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "post":
		cmdTick("post")
	case "engage":
		cmdTick("engage")
	case "mentions":
		cmdTick("mentions")
	case "follow":
		cmdTick("follow")
	case "metrics":
		cmdTick("metrics")
	case "status":
		cmdStatus()
	case "report":
		cmdReport()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: magpie <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./magpie.yaml")
	fmt.Println("  run         Run the bot: schedules, trigger API, metrics")
	fmt.Println("  post        Publish one post now")
	fmt.Println("  engage      Run one engagement tick now")
	fmt.Println("  mentions    Answer recent mentions now")
	fmt.Println("  follow      Run one follow tick now")
	fmt.Println("  metrics     Collect post metrics now")
	fmt.Println("  status      Show quota and cap usage")
	fmt.Println("  report      Show topic performance from stored metrics")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./magpie.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

type app struct {
	cfg config.Config
	db  *store.DB
	svc *scheduler.Service
}

func mustLoadApp(cfgPath string) *app {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if cfg.Credentials.BearerToken == "" {
		fmt.Println("warning: missing X_BEARER_TOKEN; read calls will fail")
	}
	if cfg.Credentials.ConsumerKey == "" {
		fmt.Println("warning: missing OAuth credentials; write calls will fail")
	}
	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	ctx := context.Background()
	q := quota.New(ctx, db, cfg.Quotas, cfg.Account.Premium)
	client := platform.NewHTTPClient(platform.Credentials{
		BearerToken:    cfg.Credentials.BearerToken,
		ConsumerKey:    cfg.Credentials.ConsumerKey,
		ConsumerSecret: cfg.Credentials.ConsumerSecret,
		AccessToken:    cfg.Credentials.AccessToken,
		AccessSecret:   cfg.Credentials.AccessSecret,
	}, q)
	return &app{cfg: cfg, db: db, svc: scheduler.New(ctx, client, db, q, cfg)}
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	a := mustLoadApp(*cfgPath)
	defer a.db.Close()
	theme.PrintBanner()

	ctx := context.Background()
	if err := timer.EnsureDefaults(ctx, a.db, a.cfg.Schedules); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	tm := timer.New(a.db, func(ctx context.Context, sched store.Schedule, now time.Time) (string, error) {
		switch sched.ID {
		case "engage":
			return a.svc.RunEngagementTick(ctx, now)
		case "mentions":
			return a.svc.RunMentionTick(ctx, now)
		case "follow":
			return a.svc.RunFollowTick(ctx, now)
		case "metrics":
			return a.svc.RunMetricsTick(ctx, now)
		default:
			// any other schedule posts, optionally pinned to a topic
			return a.svc.RunPostTick(ctx, now, sched.Topic)
		}
	})
	if err := tm.Reload(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	tm.Start()

	if a.cfg.Server.MetricsAddr != "" {
		metrics.StartServer(a.cfg.Server.MetricsAddr)
	}
	srv := api.New(a.svc, a.db, tm)
	go func() {
		if err := srv.Start(a.cfg.Server.Addr); err != nil {
			logging.Error("api server stopped", map[string]any{"error": err.Error()})
		}
	}()
	logging.Info("magpie running", map[string]any{"addr": a.cfg.Server.Addr, "metrics": a.cfg.Server.MetricsAddr})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	<-tm.Stop().Done()
	_ = srv.Shutdown(shutdownCtx)
}

func cmdTick(name string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	topic := fs.String("topic", "", "pin the post topic (post command only)")
	_ = fs.Parse(os.Args[2:])

	a := mustLoadApp(*cfgPath)
	defer a.db.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	err := cmdlog.Run(name, func() error {
		var msg string
		var err error
		switch name {
		case "post":
			msg, err = a.svc.RunPostTick(ctx, now, *topic)
		case "engage":
			msg, err = a.svc.RunEngagementTick(ctx, now)
		case "mentions":
			msg, err = a.svc.RunMentionTick(ctx, now)
		case "follow":
			msg, err = a.svc.RunFollowTick(ctx, now)
		case "metrics":
			msg, err = a.svc.RunMetricsTick(ctx, now)
		}
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	})
	if err != nil {
		os.Exit(1)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	a := mustLoadApp(*cfgPath)
	defer a.db.Close()
	st := a.svc.Status(context.Background(), time.Now().UTC())
	out, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(out))
}

func cmdReport() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	limit := fs.Int("limit", 200, "posts to include")
	_ = fs.Parse(os.Args[2:])

	a := mustLoadApp(*cfgPath)
	defer a.db.Close()
	ms, err := a.db.ListPostMetrics(context.Background(), *limit)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	for _, p := range analytics.PerformanceByTopic(ms) {
		fmt.Printf("%-24s posts=%d avgLikes=%.1f avgRate=%.2f\n", p.Topic, p.Posts, p.AvgLikes, p.AvgRate)
	}

	now := time.Now().UTC()
	events, err := analytics.RecentEvents(context.Background(), a.db, now.AddDate(0, 0, -30), now)
	if err != nil || len(events) == 0 {
		return
	}
	fmt.Printf("best posting hours (UTC): %v\n", analytics.BestPostingHours(events))
	buckets := analytics.HourlyEngagement(events)
	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	for _, h := range hours {
		fmt.Printf("%s posts=%d replies=%d follows=%d\n",
			h.Format("2006-01-02 15:00"), buckets[h]["post"], buckets[h]["reply"], buckets[h]["follow"])
	}
}

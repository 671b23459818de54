package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application"
	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
	"github.com/ngoclaw/wagent/internal/infrastructure/logger"
	"github.com/ngoclaw/wagent/internal/interfaces/http/middleware"
	"github.com/ngoclaw/wagent/pkg/client"
)

const (
	cliVersion = "0.3.0"
	cliName    = "wagent"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "wagent: WhatsApp 知识库问答网关",
		Long:  "wagent CLI: 启动网关、管理语料与媒体任务、签发管理令牌",
	}
	rootCmd.PersistentFlags().StringP("remote", "r", "", "网关地址 (如 http://gw:8080)，为空时直接使用本地配置")
	rootCmd.PersistentFlags().String("token", os.Getenv("WAGENT_TOKEN"), "远程网关的 Bearer 令牌")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "输出调试日志")

	// --- Subcommands ---

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动完整网关服务 (HTTP + WebSocket + 本地工作者)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ask [question]",
		Short: "对知识库提问",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	})

	indexCmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "加载语料并写入向量库 (默认使用 knowledge.corpus)",
		RunE:  runIndex,
	}
	indexCmd.Flags().Bool("reset", false, "写入前清空向量库")
	rootCmd.AddCommand(indexCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "运行媒体任务工作者 (--remote 时通过 HTTP 领取)",
		RunE:  runWorker,
	}
	workerCmd.Flags().IntP("concurrency", "c", 1, "工作者数量")
	rootCmd.AddCommand(workerCmd)

	jobsCmd := &cobra.Command{Use: "jobs", Short: "媒体任务管理"}
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "resubmit [job-id]",
		Short: "将失败任务重新放回队列",
		Args:  cobra.ExactArgs(1),
		RunE:  runResubmit,
	})
	rootCmd.AddCommand(jobsCmd)

	tokenCmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "签发管理接口 JWT",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenCmd.Flags().String("role", "operator", "令牌角色")
	tokenCmd.Flags().Duration("ttl", 0, "有效期 (默认 auth.token_ttl)")
	rootCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliLogger CLI 默认只输出错误
func cliLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level := "error"
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = "debug"
	}
	return logger.NewLogger(logger.Config{Level: level, Format: "console", OutputPath: "stderr"})
}

// loadCLI 加载配置并创建轻量应用（无 HTTP、无种子写入）
func loadCLI(cmd *cobra.Command) (*application.App, error) {
	log, err := cliLogger(cmd)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	app, err := application.NewAppCLI(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	return app, nil
}

// remoteClient --remote 非空时返回网关客户端
func remoteClient(cmd *cobra.Command) *client.Client {
	remote, _ := cmd.Flags().GetString("remote")
	if remote == "" {
		return nil
	}
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(remote, client.WithToken(token))
}

// signalContext 收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	bootLog, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	watcher, err := config.LoadAndWatch(bootLog)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg := watcher.Config()

	log, level, err := logger.NewLoggerWithLevel(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting wagent gateway", zap.String("version", cliVersion))

	ctx, cancel := signalContext()
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	app.Watch(watcher, level)

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return app.Stop(shutdownCtx)
}

// ─── Knowledge ───

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx := cmd.Context()

	if c := remoteClient(cmd); c != nil {
		answer, err := c.Ask(ctx, question)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	app, err := loadCLI(cmd)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background())

	// 内存向量库在进程内为空，先按配置索引
	cfg := app.AppConfig()
	if cfg.VectorStore.Type == "memory" && len(cfg.Knowledge.Corpus) > 0 {
		if _, err := app.Index(ctx, cfg.Knowledge.Corpus, false); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}

	answer, err := app.Ask(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	app, err := loadCLI(cmd)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background())

	cfg := app.AppConfig()
	paths := args
	if len(paths) == 0 {
		paths = cfg.Knowledge.Corpus
	}
	if len(paths) == 0 {
		return fmt.Errorf("没有语料路径: 传入参数或设置 knowledge.corpus")
	}
	if cfg.VectorStore.Type == "memory" {
		fmt.Fprintln(os.Stderr, "⚠ vectorstore.type=memory: 索引只在本进程内有效")
	}

	reset, _ := cmd.Flags().GetBool("reset")
	n, err := app.Index(cmd.Context(), paths, reset)
	if err != nil {
		return err
	}
	fmt.Printf("✓ 已写入 %d 个分块\n", n)
	return nil
}

// ─── Jobs ───

func runWorker(cmd *cobra.Command, args []string) error {
	app, err := loadCLI(cmd)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background())

	cfg := app.AppConfig()
	n, _ := cmd.Flags().GetInt("concurrency")
	ctx, cancel := signalContext()
	defer cancel()

	var source usecase.JobSource = usecase.NewLocalJobSource(app.JobQueue())
	if c := remoteClient(cmd); c != nil {
		source = c
	}

	app.Logger().Info("Starting media workers", zap.Int("concurrency", n))
	usecase.RunWorkers(ctx, n, source, app.Processors(), usecase.JobWorkerConfig{
		PollInterval: cfg.Jobs.PollInterval,
		Timeout:      cfg.Jobs.Timeout,
	}, app.Logger())
	return nil
}

func runResubmit(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	if c := remoteClient(cmd); c != nil {
		if err := c.Resubmit(cmd.Context(), jobID); err != nil {
			return err
		}
		fmt.Printf("✓ %s 已重新排队\n", jobID)
		return nil
	}

	app, err := loadCLI(cmd)
	if err != nil {
		return err
	}
	defer app.Stop(context.Background())

	job, err := app.JobQueue().Resubmit(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s 已重新排队 (%s)\n", job.ID(), job.Status())
	return nil
}

// ─── Auth ───

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret 未配置")
	}
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, expiresAt, err := middleware.GenerateToken(args[0], role, cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ wagent Doctor v%s\n\n", cliVersion)

	allOK := true
	report := func(name, val string, ok bool) {
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, name, val)
	}

	report(checkConfig())

	app, err := loadCLI(cmd)
	if err != nil {
		report("初始化", err.Error(), false)
		return nil
	}
	defer app.Stop(context.Background())
	cfg := app.AppConfig()
	report("数据库", cfg.Database.Type, true)

	providers := app.Providers(cmd.Context())
	if len(providers) == 0 {
		report("模型服务商", "未配置 llm.providers", false)
	}
	for _, p := range providers {
		report("模型服务商 "+p.Name, p.CircuitState, p.Available)
	}

	connectors, err := app.Connectors().List(cmd.Context())
	switch {
	case err != nil:
		report("连接实例", err.Error(), false)
	case len(connectors) == 0:
		report("连接实例", "无 (检查 "+cfg.ConnectorsFile+")", false)
	default:
		report("连接实例", fmt.Sprintf("%d 个", len(connectors)), true)
	}

	if cfg.Auth.Enabled {
		report("鉴权", "JWT 已启用", true)
	} else {
		report("鉴权", "管理接口未鉴权", false)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfig() (string, string, bool) {
	if p := config.LocalConfigPath(); p != "" {
		return "配置文件", p, true
	}
	global := config.HomeDir() + "/config.yaml"
	if _, err := os.Stat(global); err == nil {
		return "配置文件", global, true
	}
	return "配置文件", "未找到 config.yaml，使用默认值与环境变量", false
}

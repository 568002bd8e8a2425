package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/keystone/internal/auth"
	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/completion"
	"github.com/suPer8Hu/keystone/internal/config"
	"github.com/suPer8Hu/keystone/internal/db"
	"github.com/suPer8Hu/keystone/internal/httpapi"
	"github.com/suPer8Hu/keystone/internal/logger"
	"github.com/suPer8Hu/keystone/internal/metrics"
	"github.com/suPer8Hu/keystone/internal/objectstore"
	"github.com/suPer8Hu/keystone/internal/store/rabbitmq"
	"github.com/suPer8Hu/keystone/internal/store/redisstore"
	"github.com/suPer8Hu/keystone/internal/worker"
	"gorm.io/gorm"
)

func loadConfig(f *rootFlags) (config.Config, *slog.Logger) {
	cfg := config.Load()
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, logger.SetupDefault(os.Stdout, cfg.LogLevel)
}

func newServeCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig(f)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gdb, err := db.Connect(cfg.DBDSN)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			srv, err := newServer(ctx, cfg, gdb, log)
			if err != nil {
				return err
			}
			defer srv.close()

			httpSrv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           srv.engine,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info("http server started", slog.String("addr", cfg.HTTPAddr))
				errc <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				log.Info("http server shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// server is the assembled API plus whatever background work it owns.
type server struct {
	engine  *gin.Engine
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer wires storage, auth, completion, the job queue and the router.
// Without RABBIT_URL jobs run on an in-process pool that stops with ctx.
func newServer(ctx context.Context, cfg config.Config, gdb *gorm.DB, log *slog.Logger) (*server, error) {
	srv := &server{}
	fail := func(err error) (*server, error) {
		srv.close()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(promReg)

	var revoker auth.Revoker
	if cfg.RedisAddr != "" {
		rdb := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		srv.closers = append(srv.closers, func() { _ = rdb.Close() })
		revoker = redisstore.NewRevoker(rdb)
	}
	authSvc := auth.NewService(gdb, auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), revoker)

	provider, err := newRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		return fail(err)
	}
	comp := completion.NewService(cfg.AIProvider, provider,
		completion.WithTimeout(cfg.CompletionTimeout),
		completion.WithHistoryWindow(cfg.HistoryWindow),
		completion.WithRecorder(rec),
		completion.WithLogger(log),
	)

	avatars, err := objectstore.NewLocal(cfg.StorageDir, "avatars", cfg.PublicBaseURL, cfg.MaxAvatarBytes)
	if err != nil {
		return fail(err)
	}

	repo := chat.NewRepo(gdb)
	var queue worker.Queue
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return fail(fmt.Errorf("rabbit: %w", err))
		}
		srv.closers = append(srv.closers, func() { _ = pub.Close() })
		queue = pub
	} else {
		mq := worker.NewMemoryQueue(0)
		pool := worker.NewPool(worker.NewHandler(repo, comp, rec, log), cfg.WorkerConcurrency, log)
		poolCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.Run(poolCtx, mq.Tasks())
		}()
		srv.closers = append(srv.closers, func() {
			_ = mq.Close()
			cancel()
			<-done
		})
		queue = mq
		log.Info("job queue in process", slog.Int("concurrency", cfg.WorkerConcurrency))
	}

	engine, stopRouter := httpapi.NewRouter(httpapi.Deps{
		Cfg:        cfg,
		Auth:       authSvc,
		ChatSvc:    chat.NewService(repo),
		Completion: comp,
		Queue:      queue,
		Avatars:    avatars,
		Metrics:    rec,
		Gatherer:   promReg,
		Logger:     log,
	})
	srv.engine = engine
	srv.closers = append(srv.closers, stopRouter)
	return srv, nil
}

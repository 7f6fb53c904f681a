package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"local.dev/socialdemo-sync/internal/client"
	"local.dev/socialdemo-sync/internal/config"
	"local.dev/socialdemo-sync/internal/firebase"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/httpx"
	"local.dev/socialdemo-sync/internal/remote"
	"local.dev/socialdemo-sync/internal/store"
)

// Flag variables.
var (
	logFile  string
	logLevel int
	envFile  string
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var cmd = &cobra.Command{
	Use:   "socialsync",
	Short: "Runs the realtime view layer of one user and serves it over HTTP and websockets.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLog(logLevel, logFile)

		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	cmd.Flags().StringVarP(&logFile, "log", "l", "-",
		"Log output path. By default, logs are printed to stdout. "+
			"To disable logging, set this to empty (\"\").")
	cmd.Flags().IntVarP(&logLevel, "logLevel", "v", 0,
		"Verbosity level of logging. 0 = INFO, 1 = DEBUG, 2 = TRACE")
	cmd.Flags().StringVarP(&envFile, "env", "e", "",
		"Optional .env file read before the process environment.")
}

// initLog enables JWW logging to logPath ("-" is stdout, "" disables it).
func initLog(threshold int, logPath string) {
	if logPath == "" {
		jww.SetStdoutOutput(io.Discard)
		return
	}
	if logPath != "-" {
		jww.SetStdoutOutput(io.Discard)
		logOutput, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err)
		}
		jww.SetLogOutput(logOutput)
	}

	switch {
	case threshold > 1:
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	case threshold == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
	jww.INFO.Printf("log level set to: %d", threshold)
}

func run(ctx context.Context, cfg config.Config) error {
	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.UploadsDir} {
		if err := config.EnsureDir(d); err != nil {
			return errors.Wrapf(err, "create %s", d)
		}
	}

	var (
		deps    client.Deps
		cleanup = func() {}
		err     error
	)
	if cfg.LocalMode {
		deps, err = localDeps(ctx, cfg)
	} else {
		deps, cleanup, err = firebaseDeps(ctx, cfg)
	}
	if err != nil {
		return err
	}
	defer cleanup()
	deps.Locator = geo.NewStaticLocator(cfg.Origin)

	c := client.New(deps, client.Options{
		Radius:          cfg.FeedRadius,
		MutationTimeout: cfg.MutationTimeout,
	})
	srv := httpx.NewServer(c, cfg.Paths.UploadsDir)
	gin.SetMode(gin.ReleaseMode)
	hs := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		stopForward, err := srv.Forward(gctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		<-gctx.Done()
		stopForward()
		return nil
	})
	g.Go(func() error {
		jww.INFO.Printf("listening on %s (local mode: %t)", cfg.ListenAddr, cfg.LocalMode)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// localDeps wires the in-memory store, persisted under the data dir.
func localDeps(ctx context.Context, cfg config.Config) (client.Deps, error) {
	st := store.NewStore()
	if err := st.Load(cfg.Paths.DocsFile); err != nil {
		return client.Deps{}, err
	}
	accounts := store.NewAccounts(bcrypt.DefaultCost)
	if err := accounts.Load(cfg.Paths.AccountsFile); err != nil {
		return client.Deps{}, err
	}
	if cfg.Seed {
		origin := geo.Point{}
		if cfg.Origin != nil {
			origin = *cfg.Origin
		}
		if err := st.SeedIfEmpty(ctx, accounts, origin); err != nil {
			return client.Deps{}, errors.WithMessage(err, "seed")
		}
	}
	return client.Deps{
		Store: st,
		Auth:  accounts.Session(),
		Blobs: store.NewLocalBlobs(cfg.Paths.UploadsDir, cfg.PublicURL),
	}, nil
}

// firebaseDeps wires the hosted backend and restores the last session.
func firebaseDeps(ctx context.Context, cfg config.Config) (client.Deps, func(), error) {
	fb, err := config.NewFirebase(ctx, cfg)
	if err != nil {
		return client.Deps{}, nil, err
	}
	auth := firebase.NewAuth(fb.Auth, fb.Toolkit)
	if b, err := os.ReadFile(cfg.Paths.SessionFile); err == nil {
		if err := auth.Restore(ctx, strings.TrimSpace(string(b))); err != nil {
			jww.WARN.Printf("stored session not restored: %v", err)
		}
	}
	stopPersist := auth.OnSessionChange(func(s *remote.Session) { persistSession(cfg.Paths.SessionFile, s) })

	deps := client.Deps{Store: firebase.NewDocStore(fb.Firestore), Auth: auth}
	if fb.Bucket != nil {
		deps.Blobs = firebase.NewBlobs(fb.Bucket, cfg.StorageBucket)
	}
	return deps, func() {
		stopPersist()
		fb.Close()
	}, nil
}

func persistSession(path string, s *remote.Session) {
	if s == nil || s.IDToken == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			jww.WARN.Printf("remove session file: %v", err)
		}
		return
	}
	if err := os.WriteFile(path, []byte(s.IDToken), 0o600); err != nil {
		jww.WARN.Printf("write session file: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bidon15/erc20kit/internal/api"
	"github.com/Bidon15/erc20kit/internal/repository"
	"github.com/Bidon15/erc20kit/internal/token"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		contract string
		from     string
		to       string
		asset    string
		listen   string
		serve    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print ether and token transfers from or to an address",
		Long: `Polls the network for transfers matching --from and/or --to and prints one line
per transfer: hash, status, asset, from, to and amount. Pending transfers are printed
again once mined. With --serve or --listen the deployment API and /metrics are served
as well.

Examples:
  erc20kit watch --to 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
  erc20kit watch --from 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --asset token --listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(from, to)
			if err != nil {
				return err
			}
			if asset != "all" && asset != token.AssetEther && asset != token.AssetToken {
				return fmt.Errorf("unknown asset %q: want ether, token or all", asset)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			sdk, err := a.tokenSDK(ctx, e, contract)
			if err != nil {
				return err
			}

			if listen == "" && serve {
				listen = a.cfg.Server.Listen
			}
			if listen != "" {
				srv, err := a.serveAPI(ctx, listen)
				if err != nil {
					return err
				}
				defer srv.Close()
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			report := func(t token.Transfer) {
				mu.Lock()
				defer mu.Unlock()
				if a.jsonOut {
					_ = a.printJSON(out, map[string]any{
						"tx_hash": t.TxHash,
						"status":  t.Status.String(),
						"asset":   t.Asset,
						"from":    t.From,
						"to":      t.To,
						"amount":  t.Amount.String(),
						"block":   t.BlockNumber,
					})
					return
				}
				fmt.Fprintf(out, "%s %-7s %-5s %s -> %s %s\n",
					t.TxHash.Hex(), t.Status, t.Asset, t.From.Hex(), t.To.Hex(), t.Amount.String())
			}

			var monitors []*token.Monitor
			if asset == "all" || asset == token.AssetEther {
				m, err := sdk.MonitorEtherTransactions(ctx, filter, report)
				if err != nil {
					return err
				}
				monitors = append(monitors, m)
			}
			if asset == "all" || asset == token.AssetToken {
				m, err := sdk.MonitorTokenTransactions(ctx, filter, report)
				if err != nil {
					return err
				}
				monitors = append(monitors, m)
			}

			<-ctx.Done()
			for _, m := range monitors {
				m.Stop()
			}
			a.logger.Info("watch stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "token", "", "token contract address (default: token.contract)")
	cmd.Flags().StringVar(&from, "from", "", "sender address to match")
	cmd.Flags().StringVar(&to, "to", "", "recipient address to match")
	cmd.Flags().StringVar(&asset, "asset", "all", "ether, token or all")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the HTTP API on this address")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the HTTP API on server.listen")
	return cmd
}

func parseFilter(from, to string) (token.Filter, error) {
	var f token.Filter
	if from != "" {
		addr, err := token.ParseAddress(from)
		if err != nil {
			return f, fmt.Errorf("--from: %w", err)
		}
		f.From = &addr
	}
	if to != "" {
		addr, err := token.ParseAddress(to)
		if err != nil {
			return f, fmt.Errorf("--to: %w", err)
		}
		f.To = &addr
	}
	return f, f.Validate()
}

// apiServer owns the HTTP server and the repository behind it.
type apiServer struct {
	srv  *http.Server
	repo repository.Repository
	done chan struct{}
}

func (a *app) serveAPI(ctx context.Context, addr string) (*apiServer, error) {
	repo, err := repository.Open(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(repo, a.logger, api.Options{
			CORSOrigins: a.cfg.Server.CORSOrigins,
		}),
		ReadTimeout: a.cfg.Server.ReadTimeout,
	}
	s := &apiServer{srv: srv, repo: repo, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		a.logger.Info("API server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server failed", slog.String("error", err.Error()))
		}
	}()
	return s, nil
}

func (s *apiServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
	<-s.done
	_ = s.repo.Close()
}

// Package exchangeserver hosts the verifier and wallet roles of the
// credential exchange in one HTTP server: the verifier surface at the root,
// the wallet surface under /siopv2.
package exchangeserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/identity"
	"github.com/vcwallet/walletkit/server/registry"
	"github.com/vcwallet/walletkit/server/verifier"
	"github.com/vcwallet/walletkit/server/wallet"
)

type Server struct {
	conf     *server.Configuration
	verifier *verifier.Verifier
	wallet   *wallet.Wallet
	client   *redis.Client

	stop    chan struct{}
	stopped chan struct{}
}

func New(conf *server.Configuration) (*Server, error) {
	if err := conf.Check(); err != nil {
		return nil, err
	}

	var client *redis.Client
	if conf.StoreType == "redis" {
		client = redis.NewClient(&redis.Options{
			Addr:     conf.RedisSettings.Address,
			Password: conf.RedisSettings.Password,
			DB:       conf.RedisSettings.DB,
		})
	}

	verifierRegistry, err := registry.Load(conf.VerifierRegistryPath, conf.Logger)
	if err != nil {
		return nil, err
	}
	walletRegistry, err := registry.Load(conf.WalletRegistryPath, conf.Logger)
	if err != nil {
		return nil, err
	}

	v, err := verifier.New(conf, verifierRegistry, client)
	if err != nil {
		return nil, err
	}
	dids := identity.NewDIDs(identity.NewKeys())
	w, err := wallet.New(conf, walletRegistry, dids, wallet.NewMemoryCredentialStore(), client)
	if err != nil {
		v.Stop()
		return nil, err
	}

	return &Server{conf: conf, verifier: v, wallet: w, client: client}, nil
}

// Handler combines both role surfaces into one router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Mount("/siopv2", s.wallet.Handler())
	router.Mount("/", s.verifier.Handler())
	return router
}

// Start serves until Stop is called. It returns the error that ended
// serving, if any.
func (s *Server) Start() error {
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	addr := fmt.Sprintf("%s:%d", s.conf.ListenAddress, s.conf.Port)
	s.conf.Logger.Info("Server listening at ", addr)
	serv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-s.stop
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := serv.Shutdown(ctx); err != nil {
			_ = server.LogError(err)
		}
		// in-flight requests have drained, session stores may now close
		s.close()
		s.stopped <- struct{}{}
	}()

	return filterStopError(serv.ListenAndServe())
}

func filterStopError(err error) error {
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) close() {
	s.verifier.Stop()
	s.wallet.Stop()
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *Server) Stop() {
	if s.stop == nil {
		s.close()
		return
	}
	s.stop <- struct{}{}
	<-s.stopped
}

package routes

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	gatewayauth "apxpool/gateway/auth"
	"apxpool/gateway/middleware"
)

// ScopeFacilityWrite is the JWT scope required to submit mutations
// through the /rpc forwarder.
const ScopeFacilityWrite = "facility.write"

type Config struct {
	Upstream        *url.URL
	UpstreamToken   string
	CompatRewrite   func(http.Handler) http.Handler
	Authenticator   *middleware.Authenticator
	RateLimiter     *middleware.RateLimiter
	Observability   *middleware.Observability
	CORS            middleware.CORSConfig
	PartnerAuth     *gatewayauth.Authenticator
	PartnerBindings map[string]string
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream URL required")
	}

	facilityBridge, err := newFacilityRoutes(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("configure facility routes: %w", err)
	}
	forwarder, err := newRPCForwarder(cfg.Upstream, cfg.UpstreamToken)
	if err != nil {
		return nil, fmt.Errorf("configure rpc forwarder: %w", err)
	}
	var partnerBridge *partnerRoutes
	if cfg.PartnerAuth != nil {
		partnerBridge, err = newPartnerRoutes(cfg.Upstream, cfg.UpstreamToken, cfg.PartnerAuth, cfg.PartnerBindings)
		if err != nil {
			return nil, fmt.Errorf("configure partner routes: %w", err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(sr chi.Router) {
		sr.Group(func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware("reads"))
			}
			if obs != nil {
				gr.Use(obs.Middleware("facility"))
			}
			facilityBridge.mount(gr)
		})
		if partnerBridge != nil {
			sr.Route("/partner", func(pg chi.Router) {
				if cfg.RateLimiter != nil {
					pg.Use(cfg.RateLimiter.Middleware("partner"))
				}
				if obs != nil {
					pg.Use(obs.Middleware("partner"))
				}
				partnerBridge.mount(pg)
			})
		}
	})

	var rpcHandler http.Handler = forwarder
	if cfg.CompatRewrite != nil {
		rpcHandler = cfg.CompatRewrite(forwarder)
	}
	r.Group(func(gr chi.Router) {
		if cfg.RateLimiter != nil {
			gr.Use(cfg.RateLimiter.Middleware("rpc"))
		}
		if cfg.Authenticator != nil {
			gr.Use(cfg.Authenticator.Middleware(ScopeFacilityWrite))
		}
		if obs != nil {
			gr.Use(obs.Middleware("rpc"))
		}
		gr.Handle("/rpc", rpcHandler)
	})

	r.Handle("/ws/events", NewProxy(cfg.Upstream, ""))

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}

package main

import (
	"context"
	"crypto/rsa"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/audit"
	"github.com/zebra-devops/marketedge-core/internal/claims"
	"github.com/zebra-devops/marketedge-core/internal/config"
	"github.com/zebra-devops/marketedge-core/internal/httpapi"
	"github.com/zebra-devops/marketedge-core/internal/obs"
	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/refresh"
	"github.com/zebra-devops/marketedge-core/internal/store/pg"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
	"github.com/zebra-devops/marketedge-core/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Signing key: from disk in production, ephemeral in development.
	key := loadSigningKey(cfg)
	issuer, err := token.NewIssuer(key, "marketedge-"+version, cfg.Issuer, cfg.Audience, cfg.ClaimNamespace,
		token.WithAccessTTL(cfg.AccessTTL))
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	// Verification keys: a remote JWKS endpoint when the identity provider
	// is external, otherwise this process's own signing key.
	var keys token.KeySource = issuer.KeySource()
	if cfg.JWKSURL != "" {
		keys, err = token.NewJWKSSource(ctx, cfg.JWKSURL, 15*time.Minute)
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
	}
	verifier, err := token.NewVerifier(keys, cfg.Issuer, cfg.Audience)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}

	var (
		dir          tenant.Directory
		refreshStore refresh.Store
		auditStore   audit.Store
		ready        func(context.Context) error
	)
	if cfg.DevMode() {
		log.Printf("no database configured, running on in-memory stores")
		mem := tenant.NewMemoryDirectory()
		seedDev(mem)
		dir = mem
		refreshStore = refresh.NewMemoryStore()
		auditStore = audit.LogStore{}
	} else {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		dir = pg.NewDirectory(store)
		refreshStore = pg.NewRefreshStore(store)
		auditStore = pg.NewAuditStore(store)
		ready = store.Ping
	}

	emitter, err := audit.NewEmitter(auditStore)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	coord, err := refresh.NewCoordinator(refreshStore, dir,
		refresh.WithTTL(cfg.RefreshTTL),
		refresh.WithReuseHook(func(ctx context.Context, fam refresh.Family, memberID string) {
			emitter.Emit(ctx, audit.Entry{
				PrincipalID: fam.PrincipalID,
				TenantID:    fam.TenantID,
				Action:      audit.ActionRefreshReuse,
				Outcome:     audit.OutcomeDenied,
				Detail:      map[string]any{"family_id": fam.ID, "member_id": memberID},
			})
		}),
	)
	if err != nil {
		log.Fatalf("refresh: %v", err)
	}

	api, err := httpapi.New(httpapi.Options{
		Verifier:       verifier,
		Extractor:      claims.NewExtractor(cfg.ClaimNamespace),
		Directory:      dir,
		Refresh:        coord,
		Issuer:         issuer,
		Audit:          emitter,
		Version:        version,
		CookieSecure:   cfg.CookieSecure,
		RefreshTTL:     cfg.RefreshTTL,
		Ready:          ready,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting marketedge-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("stopped")
}

func loadSigningKey(cfg config.Config) *rsa.PrivateKey {
	if cfg.SigningKeyFile != "" {
		pemData, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			log.Fatalf("signing key: %v", err)
		}
		key, err := token.ParseRSAPrivateKey(string(pemData))
		if err != nil {
			log.Fatalf("signing key: %v", err)
		}
		return key
	}
	if cfg.Env != "dev" {
		log.Fatalf("signing key: MARKETEDGE_SIGNING_KEY_FILE is required when MARKETEDGE_ENV=%s", cfg.Env)
	}
	key, err := token.GenerateDevKey()
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}
	log.Printf("generated ephemeral signing key; tokens will not survive a restart")
	return key
}

// seedDev loads a tiny fixture set so the service is usable out of the box.
func seedDev(dir *tenant.MemoryDirectory) {
	dir.AddOrganization(tenant.Organization{
		ID: "org-zebra", Name: "Zebra Associates", Industry: "consulting", SubscriptionTier: "enterprise",
	})
	dir.AddOrganization(tenant.Organization{
		ID: "org-odeon", Name: "Odeon Cinemas", Industry: "cinema", SubscriptionTier: "growth",
	})
	hash, err := tenant.HashPassword("password")
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	dir.AddPrincipal(tenant.Principal{
		ID: "usr-matt", TenantID: "org-zebra", Email: "matt@zebra.test", Role: rbac.RoleSuperAdmin, Active: true,
	}, hash)
	dir.AddPrincipal(tenant.Principal{
		ID: "usr-ana", TenantID: "org-odeon", Email: "ana@odeon.test", Role: rbac.RoleAdmin, Active: true,
	}, hash)
	dir.AddPrincipal(tenant.Principal{
		ID: "usr-vik", TenantID: "org-odeon", Email: "vik@odeon.test", Role: rbac.RoleViewer, Active: true,
	}, hash)
}

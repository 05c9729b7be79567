package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"dnevniksync/lib/configutil"
	"dnevniksync/lib/serviceutil"
	"dnevniksync/lib/snapshotstore"
	"dnevniksync/lib/telemetry"
	"dnevniksync/services/sync"
)

func newController(ctx context.Context, config SyncdConfig) (sync.Controller, error) {
	if config.Controller != nil {
		slog.Info("publishing to remote controller", "base_url", config.Controller.BaseUrl)
		return sync.NewRestController(*config.Controller), nil
	}

	slog.Info("opening snapshot database...")
	database, err := config.Snapshot.OpenDB()
	if err != nil {
		return nil, err
	}
	store, err := snapshotstore.NewStore(database)
	if err != nil {
		return nil, err
	}

	controller := sync.NewLocalController(store)
	for _, account := range config.Accounts {
		err := controller.LinkAccount(ctx, account.ID, sync.CredentialRef{
			Login:  account.Login,
			Secret: account.Password,
		})
		if err != nil {
			return nil, err
		}
	}
	return controller, nil
}

// the trigger endpoint lets the chat front-end force a sync when the
// student asks for fresh data
func newMux(service *sync.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/{account}", func(w http.ResponseWriter, r *http.Request) {
		result := service.TriggerSync(r.Context(), r.PathValue("account"))

		status := http.StatusOK
		if result.Status == sync.SyncFailed {
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		errText := ""
		if result.Err != nil {
			errText = result.Err.Error()
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  result.Status.String(),
			"inserts": result.Summary.Inserts,
			"updates": result.Summary.Updates,
			"deletes": result.Summary.Deletes,
			"skipped": result.Summary.Skipped,
			"err":     errText,
		})
	})
	return mux
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[SyncdConfig]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	t, err := telemetry.SetupFromEnv(ctx, "syncd")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer t.Shutdown(context.Background())
	}
	telemetry.InitSlog(false)
	telemetry.InstrumentPerfStats(ctx)

	controller, err := newController(ctx, config)
	if err != nil {
		serviceutil.Fatal("failed to initialize controller", err)
	}

	service := sync.NewService(sync.ServiceOptions{
		Controller:         controller,
		Portal:             config.portalOptions(),
		MinRequestInterval: time.Millisecond * time.Duration(config.MinRequestIntervalMs),
		ScheduleWeeks:      config.ScheduleWeeks,
		MaxParallelRuns:    config.MaxParallelRuns,
		SyncInterval:       time.Minute * time.Duration(config.SyncIntervalMinutes),
	})

	go service.RunDaemon(ctx)

	port := config.Port
	if port == 0 {
		port = 8311
	}
	serviceutil.StartHttpServer(port, newMux(service))
}

package main

import (
	"CurveMarket/internal/config"
	"CurveMarket/internal/core"
	"CurveMarket/internal/curve"
	"CurveMarket/internal/event"
	"CurveMarket/internal/ingestion"
	"CurveMarket/internal/observability"
	"CurveMarket/internal/persistence"
	"CurveMarket/internal/projection"
	"CurveMarket/internal/query"
	"CurveMarket/internal/server"
	"CurveMarket/internal/token"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "config.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid config: %v", err)
	}

	logger := observability.NewLogger("main")
	logger.Info().Str("http_addr", cfg.Server.HTTPAddr).Msg("starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	logger.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	logger.Info().Msg("migrations applied")

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.Worker.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Worker.ProjectionChanSize)

	// Bridge channels for the workers (avoids import cycles with core)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.Worker.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Worker.ProjectionChanSize)

	// --- Postgres idempotency checker ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Market parameters ---
	custody, _ := cfg.Market.CustodyAddress()
	beneficiary, _ := cfg.Market.BeneficiaryAddress()
	buyFee, _ := cfg.Market.BuyFee()
	sellFee, _ := cfg.Market.SellFee()

	// --- Deterministic core ---
	marketCore := core.NewMarketCore(
		core.Config{
			StartSequence:   startSequence,
			BatchDurationUs: cfg.Market.BatchDurationUs,
			Custody:         custody,
			Beneficiary:     beneficiary,
			BuyFeePct:       buyFee,
			SellFeePct:      sellFee,
			DedupCapacity:   cfg.Worker.DedupLRUCapacity,
		},
		token.NewMemoryToken(),
		token.NewMemoryVault(),
		token.PermissiveChecker{},
		curve.NewBancorFormula(),
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	// --- Snapshot restore + LRU warming ---
	if snap != nil {
		marketCore.RestoreFromSnapshot(snap)
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored in-memory state from snapshot")
		if len(snap.IdempotencyKeys) > 0 {
			marketCore.WarmLRU(snap.IdempotencyKeys)
			logger.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warmed dedup LRU from snapshot")
		}
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	publishChan := make(chan ingestion.PublishableEvent, 4096)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Start output workers before replay ---
	// Replay re-emits every applied event onto the blocking persist channel;
	// the workers and bridge must already be draining it. Re-persisted rows
	// dedupe on sequence.
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.Worker.PersistBatchSize, cfg.Worker.PersistFlushTimeout(), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan,
		persistWorkerChan, projectionWorkerChan, publishChan)

	// --- Event replay from the log ---
	replayCount, err := replayEventsFromLog(ctx, snapMgr, marketCore, startSequence)
	if err != nil {
		log.Fatalf("FATAL: event replay failed: %v", err)
	}
	if replayCount > 0 {
		logger.Info().Int64("replayed", replayCount).Int64("sequence", marketCore.GetSequence()).Msg("event replay complete")
	}

	// --- State hash verification ---
	if snap != nil && replayCount == 0 {
		if snap.StateHash != marketCore.GetStateHash() {
			log.Fatalf("FATAL: state hash mismatch after restore: expected %x, got %x",
				snap.StateHash, marketCore.GetStateHash())
		}
		logger.Info().Msg("state hash verified after snapshot restore")
	}

	// --- Ingestion: subscribe only after replay so live events cannot
	// interleave with recovery ---
	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Services ---
	queryService := query.NewQueryService(db)
	adminEventChan := make(chan event.Event, 256)
	ingestService := ingestion.NewAdminIngestService(adminEventChan)

	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		Metrics:       metrics,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
	})

	go runIngestionLoop(ctx, rawEventChan, adminEventChan, marketCore)

	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	go runPeriodicSnapshots(ctx, marketCore, snapMgr, cfg.Worker.SnapshotInterval, metrics)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().Int64("sequence", marketCore.GetSequence()).Msg("ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown: stop intake, flush workers, final snapshot ---
	cancel()
	natsSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, marketCore, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("shutdown complete")
}

// bridgeCoreOutputs converts core.CoreOutput into the persistence, projection,
// and outbound-publish formats. The persist path is blocking end to end; the
// projection and publish paths drop when full.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			payload, err := ingestion.MarshalWireEvent(output.Source)
			if err != nil {
				log.Printf("WARN: marshal event payload seq=%d: %v", output.Envelope.Sequence, err)
			}

			collateral := copyStrPtr(output.Envelope.Collateral)
			seq := output.Envelope.Sequence

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       seq,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					Collateral:     collateral,
					Payload:        payload,
					StateHash:      output.Envelope.StateHash[:],
					PrevHash:       output.Envelope.PrevHash[:],
					Timestamp:      time.UnixMicro(output.Envelope.TimestampUs).UTC(),
					SourceSequence: output.Envelope.SourceSequence,
				},
			}

			if b := output.Batch; b != nil {
				pOutput.BatchRow = &persistence.BatchRow{
					Collateral:      b.Collateral.Hex(),
					BatchID:         b.ID,
					MetaBatchID:     b.MetaBatchID,
					WindowStartUs:   b.WindowStart,
					WindowEndUs:     b.WindowEnd,
					State:           b.State.String(),
					Supply:          b.Supply.String(),
					Balance:         b.Balance.String(),
					ReserveRatioPPM: int64(b.ReserveRatioPPM),
					MaxSlippagePPM:  int64(b.MaxSlippagePPM),
					TotalBuySpend:   b.TotalBuySpend.String(),
					TotalBuyReturn:  b.TotalBuyReturn.String(),
					TotalSellSpend:  b.TotalSellSpend.String(),
					TotalSellReturn: b.TotalSellReturn.String(),
					Sequence:        seq,
				}
			}

			if o := output.Order; o != nil {
				pOutput.OrderRow = &persistence.OrderRow{
					Owner:      o.Owner.Hex(),
					Collateral: o.Collateral.Hex(),
					BatchID:    o.BatchID,
					Side:       o.Side.String(),
					Amount:     o.Amount.String(),
					Claimed:    o.Claimed,
					Sequence:   seq,
				}
			}

			pOutput.CollateralRow = collateralRowFor(output.Source, seq)

			if output.TokensToBeMinted != nil {
				pOutput.ReserveRows = append(pOutput.ReserveRows, persistence.ReserveRow{
					Scope:    "mint",
					Amount:   output.TokensToBeMinted.String(),
					Sequence: seq,
				})
			}
			if collateral != nil && output.CollateralClaim != nil {
				pOutput.ReserveRows = append(pOutput.ReserveRows, persistence.ReserveRow{
					Scope:    "claim:" + *collateral,
					Amount:   output.CollateralClaim.String(),
					Sequence: seq,
				})
			}

			select {
			case persistOut <- pOutput:
			case <-ctx.Done():
				return
			}

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       seq,
				EventType:      output.Envelope.EventType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				Collateral:     collateral,
				Payload:        json.RawMessage(payload),
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      time.UnixMicro(output.Envelope.TimestampUs).UTC(),
			}:
			default:
				// Drop if the publish channel is full
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			pOutput := projection.ProjectionOutput{
				Sequence:    output.Envelope.Sequence,
				EventType:   output.Envelope.EventType.String(),
				Collateral:  copyStrPtr(output.Envelope.Collateral),
				TimestampUs: output.Envelope.TimestampUs,
			}

			if b := output.Batch; b != nil {
				pOutput.Batch = &projection.BatchUpdate{
					BatchID:         b.ID,
					MetaBatchID:     b.MetaBatchID,
					State:           b.State.String(),
					StaticPricePPM:  curve.StaticPricePPM(b.Supply, b.Balance, b.ReserveRatioPPM).Int64(),
					TotalBuySpend:   b.TotalBuySpend.String(),
					TotalBuyReturn:  b.TotalBuyReturn.String(),
					TotalSellSpend:  b.TotalSellSpend.String(),
					TotalSellReturn: b.TotalSellReturn.String(),
				}
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop if the projection channel is full
			}
		}
	}
}

// collateralRowFor derives a collaterals-table upsert from governance
// commands. Removal keeps the row with whitelisted=FALSE so claims against
// cancelled batches remain queryable.
func collateralRowFor(src event.Event, seq int64) *persistence.CollateralRow {
	switch e := src.(type) {
	case *event.AddCollateralToken:
		return &persistence.CollateralRow{
			Collateral:      e.CollateralAddr.Hex(),
			VirtualSupply:   e.VirtualSupply.String(),
			VirtualBalance:  e.VirtualBalance.String(),
			ReserveRatioPPM: int64(e.ReserveRatioPPM),
			MaxSlippagePPM:  int64(e.MaxSlippagePPM),
			Whitelisted:     true,
			Sequence:        seq,
		}
	case *event.UpdateCollateralToken:
		return &persistence.CollateralRow{
			Collateral:      e.CollateralAddr.Hex(),
			VirtualSupply:   e.VirtualSupply.String(),
			VirtualBalance:  e.VirtualBalance.String(),
			ReserveRatioPPM: int64(e.ReserveRatioPPM),
			MaxSlippagePPM:  int64(e.MaxSlippagePPM),
			Whitelisted:     true,
			Sequence:        seq,
		}
	case *event.RemoveCollateralToken:
		return &persistence.CollateralRow{
			Collateral:      e.CollateralAddr.Hex(),
			VirtualSupply:   "0",
			VirtualBalance:  "0",
			ReserveRatioPPM: 0,
			MaxSlippagePPM:  0,
			Whitelisted:     false,
			Sequence:        seq,
		}
	default:
		return nil
	}
}

func copyStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

// runIngestionLoop parses raw NATS events, acks them after the parsed event
// is handed to the core channel, and drains both the NATS and admin paths
// into the single-threaded core.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	adminChan <-chan event.Event,
	marketCore *core.MarketCore,
) {
	// Subject prefix → event type, built from the consumer configs.
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.EventType
	}

	// Messages are acked after the parsed event is queued, NOT after core
	// processing. This prevents AckWait expiry during slow processing and
	// propagates backpressure through the channel.
	typedEventChan := make(chan event.Event, 4096)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					close(typedEventChan)
					return
				}

				eventType := resolveEventType(raw.Subject, subjectToType)
				if eventType == "" {
					log.Printf("WARN: unknown NATS subject: %s", raw.Subject)
					raw.AckFunc() // ack to avoid a redelivery loop
					continue
				}

				evt, err := ingestion.ParseRawEvent(raw, eventType)
				if err != nil {
					log.Printf("WARN: parse event failed (subject=%s): %v", raw.Subject, err)
					raw.AckFunc() // unparseable events are acked but not forwarded
					continue
				}

				select {
				case typedEventChan <- evt:
					raw.AckFunc()
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-typedEventChan:
			if !ok {
				return
			}
			if err := marketCore.ProcessEvent(evt); err != nil {
				log.Printf("ERROR: process event failed (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}
		case evt, ok := <-adminChan:
			if !ok {
				return
			}
			if err := marketCore.ProcessEvent(evt); err != nil {
				log.Printf("ERROR: process admin event failed (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}
		}
	}
}

// resolveEventType finds the event type for a NATS subject by longest prefix.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = evtType
			}
		}
	}
	return bestType
}

// replayEventsFromLog replays stored events starting at fromSequence. Used
// for both warm restart (from snapshot) and cold restart (from zero).
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	marketCore *core.MarketCore,
	fromSequence int64,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			break
		}

		for _, row := range events {
			evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: row.Payload}, row.EventType)
			if err != nil {
				log.Printf("WARN: skip unparseable event seq=%d type=%s: %v",
					row.Sequence, row.EventType, err)
				continue
			}

			if err := marketCore.ProcessEvent(evt); err != nil {
				// Duplicates and sequence rejects are expected during replay
				log.Printf("DEBUG: replay skip seq=%d: %v", row.Sequence, err)
			}
			totalReplayed++
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// runPeriodicSnapshots takes a snapshot every interval events.
func runPeriodicSnapshots(
	ctx context.Context,
	marketCore *core.MarketCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := marketCore.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := marketCore.GetSequence()
			if currentSeq-lastSnapshotSeq >= interval {
				if err := takeSnapshot(ctx, marketCore, snapMgr, metrics); err != nil {
					log.Printf("WARN: periodic snapshot failed: %v", err)
				} else {
					lastSnapshotSeq = currentSeq
					log.Printf("INFO: periodic snapshot at sequence %d", currentSeq)
				}
			}
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it.
func takeSnapshot(
	ctx context.Context,
	marketCore *core.MarketCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	snap := marketCore.CreateSnapshotState()

	sizeBytes, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Mark as verified immediately: it was created from live state
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		log.Printf("WARN: mark snapshot verified failed: %v", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(sizeBytes))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}

	return nil
}

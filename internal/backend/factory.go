package backend

import (
	"context"
	"fmt"

	"pettycash/internal/amqp"
	"pettycash/internal/archive"
	"pettycash/internal/config"
	"pettycash/internal/ledger"
	gledger "pettycash/internal/ledger/google"
	ledgermem "pettycash/internal/ledger/memory"
	"pettycash/internal/log"
	"pettycash/internal/ocr"
	"pettycash/internal/ocr/gemini"
	"pettycash/internal/ocr/vision"
	"pettycash/internal/services"
	"pettycash/internal/storage"
	"pettycash/internal/storage/firestore"
	formmem "pettycash/internal/storage/memory"
)

// New builds every component named by cfg. On error, whatever was already
// opened is closed before returning.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentBackend)

	c := &Components{Checks: make(map[string]ReadinessCheck)}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	extractor, err := NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded extraction rules", "rule_set", extractor.Name())

	ledgerBackend, err := newLedgerBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Initialized ledger backend", "backend", cfg.LedgerBackend, "sheet", cfg.LedgerSheetName)

	recognizer, err := newRecognizer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Initialized OCR backend", "backend", cfg.OCRBackend)

	forms, err := c.newFormStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Initialized document store", "backend", cfg.DocstoreBackend)

	opts := []services.Option{services.WithLogger(logger.Base())}

	if cfg.ReceiptBucket != "" {
		gcs, err := archive.NewGCS(ctx, cfg.ReceiptBucket, cfg.Credentials())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize receipt archive: %w", err)
		}
		c.onClose(gcs.Close)
		opts = append(opts, services.WithArchiver(gcs))
		logger.Info("Initialized receipt archive", "bucket", cfg.ReceiptBucket)
	}

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			c.onClose(client.Close)
			opts = append(opts, services.WithPublisher(client))
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"routing_key", cfg.AMQPRoutingKey)
		}
	}

	recorder := ledger.NewService(ledgerBackend, c.ledgerOptions(cfg, logger.Base()), logger.Base())
	c.Receipts = services.NewReceiptService(recognizer, extractor, forms, recorder, opts...)
	return c, nil
}

func newLedgerBackend(ctx context.Context, cfg *config.Config) (ledger.Backend, error) {
	switch cfg.LedgerBackend {
	case config.LedgerSheets:
		client, err := gledger.New(ctx, gledger.Config{
			SheetName:   cfg.LedgerSheetName,
			FolderID:    cfg.LedgerDriveFolderID,
			Credentials: cfg.Credentials(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets ledger: %w", err)
		}
		return client, nil
	case config.LedgerMemory:
		return ledgermem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.LedgerBackend)
	}
}

func newRecognizer(ctx context.Context, cfg *config.Config) (ocr.Recognizer, error) {
	switch cfg.OCRBackend {
	case config.OCRVision:
		client, err := vision.New(ctx, cfg.Credentials())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Vision client: %w", err)
		}
		return client, nil
	case config.OCRGemini:
		client, err := gemini.New(ctx, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		return client, nil
	case config.OCRStatic:
		return ocr.Static{Text: cfg.OCRStaticText}, nil
	default:
		return nil, fmt.Errorf("unsupported OCR backend: %s", cfg.OCRBackend)
	}
}

func (c *Components) newFormStore(ctx context.Context, cfg *config.Config) (storage.FormWriter, error) {
	switch cfg.DocstoreBackend {
	case config.DocstoreSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		c.onClose(repo.Close)
		c.Checks["sqlite"] = repo.Ping
		return repo, nil
	case config.DocstoreFirestore:
		store, err := firestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCollection, cfg.Credentials())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firestore: %w", err)
		}
		c.onClose(store.Close)
		return store, nil
	case config.DocstoreMemory:
		return formmem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported docstore backend: %s", cfg.DocstoreBackend)
	}
}

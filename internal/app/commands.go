package app

import (
	"context"
	"errors"
	"fmt"

	"jobwatch/internal/domain"
	"jobwatch/internal/keyword"
	"jobwatch/internal/storage"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

// openStore loads the config and opens only the store, for commands that
// need nothing else.
func openStore(ctx context.Context, opts Options) (*storage.Store, []string, logx.Logger, func(), error) {
	_, cfg, logs, log, err := bootstrap(opts)
	if err != nil {
		return nil, nil, logx.Logger{}, nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		_ = logs.Close()
		return nil, nil, logx.Logger{}, nil, err
	}
	st, err := storage.Open(ctx, storageConfig(cfg, d), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, nil, logx.Logger{}, nil, fmt.Errorf("open storage: %w", err)
	}
	closeAll := func() {
		_ = st.Close()
		_ = logs.Close()
	}
	return st, cfg.Vocabulary(), log, closeAll, nil
}

// Migrate applies pending schema migrations and reports the resulting
// version.
func Migrate(ctx context.Context, opts Options) (uint, error) {
	st, _, log, closeAll, err := openStore(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer closeAll()
	v, err := st.SchemaVersion()
	if err != nil {
		return 0, err
	}
	log.Info("migrations applied", logx.String("driver", st.Driver()), logx.Uint64("version", uint64(v)))
	return v, nil
}

type SubscribeResult struct {
	Added    []domain.Keyword
	Existing []domain.Keyword
	Unknown  []string
}

// Subscribe seeds subscriptions for recipient without going through the
// bot. Terms may be comma separated; ones outside the vocabulary are
// reported and skipped.
func Subscribe(ctx context.Context, opts Options, recipient string, terms []string) (SubscribeResult, error) {
	if _, err := transport.RecipientTarget(recipient); err != nil {
		return SubscribeResult{}, err
	}
	kws := keyword.ParseTerms(terms)
	if len(kws) == 0 {
		return SubscribeResult{}, errors.New("no keywords given")
	}

	st, vocab, log, closeAll, err := openStore(ctx, opts)
	if err != nil {
		return SubscribeResult{}, err
	}
	defer closeAll()

	ex := keyword.NewExtractor(vocab)
	var res SubscribeResult
	for _, kw := range kws {
		if !ex.Contains(kw) {
			res.Unknown = append(res.Unknown, kw)
			continue
		}
		added, err := st.Subscribe(ctx, recipient, kw)
		if err != nil {
			return res, domain.Wrap(domain.ErrPersistence, "subscribe", err)
		}
		if added {
			res.Added = append(res.Added, kw)
		} else {
			res.Existing = append(res.Existing, kw)
		}
	}
	log.Info("subscriptions seeded",
		logx.String("recipient", recipient),
		logx.Strings("added", res.Added),
		logx.Strings("existing", res.Existing),
		logx.Strings("unknown", res.Unknown),
	)
	return res, nil
}

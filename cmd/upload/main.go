package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"compute-breach-check/config"
	"compute-breach-check/hibp"
	"compute-breach-check/store"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// filterSink stores an encoded filter under its prefix.
type filterSink func(ctx context.Context, prefix string, data []byte) (err error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envs := errors.Must(config.ParseEnvironment())
	errors.Check(envs.Validate())

	logger := envs.NewLogger()

	app := &cli.App{
		Name:  "upload",
		Usage: "build range filters from the range API and upload them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Fastly API token with access to upload to the KV store",
				EnvVars: []string{"FASTLY_API_TOKEN"},
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "3-character hex prefix to start creating/uploading filters from",
				Value: "000",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "write filters into this directory instead of the KV store",
			},
			&cli.IntFlag{
				Name:  "parallel",
				Usage: "number of range requests in flight",
				Value: config.UPLOAD_PARALLELISM,
			},
		},
		Action: func(c *cli.Context) (err error) {
			return run(c, envs, logger)
		},
	}

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		logger.ErrorContext(ctx, "upload failed", slogutil.KeyError, err)

		os.Exit(1)
	}
}

func run(c *cli.Context, envs *config.Environment, logger *slog.Logger) (err error) {
	ctx := c.Context

	from := c.String("from")
	if len(from) != hibp.FilterPrefixLength {
		return fmt.Errorf("--from: want %d hex characters, got %q", hibp.FilterPrefixLength, from)
	}

	start, err := strconv.ParseUint(from, 16, 64)
	if err != nil {
		return fmt.Errorf("--from: not a hex number: %w", err)
	}

	parallel := c.Int("parallel")
	if parallel < 1 {
		return fmt.Errorf("--parallel: must be positive, got %d", parallel)
	}

	httpClient := config.NewHTTPClient(logger, config.HTTP_CLIENT_MAX_RETRY)

	sink, err := newSink(ctx, c, httpClient, logger)
	if err != nil {
		return err
	}

	lookup := hibp.NewRangeClient(&hibp.RangeConfig{
		Client:      httpClient,
		Logger:      logger,
		URL:         envs.RangeURL,
		UserAgent:   envs.UserAgent,
		Timeout:     envs.LookupTimeout.Duration,
		MaxRespSize: envs.MaxRespSize,
		Algorithm:   hibp.AlgorithmSHA1,
	})

	// The range API accepts 5 characters and filters are built for 3, so each
	// filter needs all 2-character additions of its prefix.
	additions := generatePrefixes(hibp.PrefixLength-hibp.FilterPrefixLength, 0)
	for _, prefix := range generatePrefixes(hibp.FilterPrefixLength, start) {
		logger.InfoContext(ctx, "getting hashes", "prefix", prefix)

		var digests []hibp.Digest
		digests, err = digestsForFilter(ctx, lookup, prefix, additions, parallel)
		if err != nil {
			return fmt.Errorf("%w; try again later using --from %s", err, prefix)
		}

		logger.InfoContext(ctx, "building filter", "prefix", prefix, "hashes", len(digests))

		var f *hibp.RangeFilter
		f, err = hibp.NewRangeFilter(digests)
		if err != nil {
			return fmt.Errorf("prefix %s: %w", prefix, err)
		}

		data := errors.Must(f.MarshalBinary())

		logger.InfoContext(ctx, "uploading filter", "prefix", prefix, "size", len(data))

		err = sink(ctx, prefix, data)
		if err != nil {
			return fmt.Errorf("%w; try again later using --from %s", err, prefix)
		}
	}

	logger.InfoContext(ctx, "done uploading filters")

	return nil
}

// newSink returns the filter sink selected by the flags.
func newSink(
	ctx context.Context,
	c *cli.Context,
	httpClient *http.Client,
	logger *slog.Logger,
) (sink filterSink, err error) {
	if dir := c.String("out"); dir != "" {
		src := store.NewDirFilterSource(dir)

		return func(_ context.Context, prefix string, data []byte) (err error) {
			return src.Write(prefix, data)
		}, nil
	}

	token := c.String("token")
	if token == "" {
		return nil, errors.Error("please provide an API token with access to upload to the KV store")
	}

	api := store.NewAPIClient(httpClient, errors.Must(url.Parse(store.DefaultAPIURL)), token)
	kv, err := api.Store(ctx, config.KV_STORE_NAME)
	if err != nil {
		return nil, fmt.Errorf("please create the store before attempting to upload filters: %w", err)
	}

	logger.InfoContext(ctx, "uploading to kv store", "name", kv.StoreName, "id", kv.ID)

	return func(ctx context.Context, prefix string, data []byte) (err error) {
		return api.Upload(ctx, kv, prefix, data)
	}, nil
}

// digestsForFilter returns the digests of every range that starts with
// prefix.
func digestsForFilter(
	ctx context.Context,
	lookup *hibp.RangeClient,
	prefix string,
	additions []string,
	parallel int,
) (digests []hibp.Digest, err error) {
	ranges := make([][]hibp.Digest, len(additions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, addition := range additions {
		rangePrefix := prefix + addition
		g.Go(func() (err error) {
			recs, err := lookup.Range(gctx, rangePrefix)
			if err != nil {
				return fmt.Errorf("range %s: %w", rangePrefix, err)
			} else if len(recs) == 0 {
				// Every range has records, an empty one means a bad response.
				return fmt.Errorf("range %s: %w", rangePrefix, errors.ErrEmptyValue)
			}

			ds := make([]hibp.Digest, 0, len(recs))
			for _, rec := range recs {
				ds = append(ds, hibp.Digest(rangePrefix+rec.Suffix))
			}

			ranges[i] = ds

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	for _, ds := range ranges {
		digests = append(digests, ds...)
	}

	return digests, nil
}

// generatePrefixes returns all uppercase hex strings of length n starting from
// start.
func generatePrefixes(n int, start uint64) (prefixes []string) {
	total := uint64(1) << (4 * n)
	for i := start; i < total; i++ {
		prefixes = append(prefixes, fmt.Sprintf("%0*X", n, i))
	}

	return prefixes
}

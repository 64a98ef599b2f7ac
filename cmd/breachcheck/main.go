package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"compute-breach-check/config"
	"compute-breach-check/hibp"
	"compute-breach-check/store"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/urfave/cli/v2"
)

// Exit codes.
const (
	exitCompromised = 1
	exitFailure     = 2
)

// errEmptyPassword is reported for blank input lines.
const errEmptyPassword errors.Error = "empty password"

// checker is a password lookup: either a plain range lookup or one screened by
// local filters.
type checker interface {
	Check(ctx context.Context, d hibp.Digest) (res *hibp.LookupResult, err error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envs := errors.Must(config.ParseEnvironment())
	errors.Check(envs.Validate())

	logger := envs.NewLogger()

	app := &cli.App{
		Name:  "breachcheck",
		Usage: "check passwords and email addresses against known data breaches",
		Commands: []*cli.Command{{
			Name:      "password",
			Usage:     "check passwords read from stdin, one per line",
			ArgsUsage: " ",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "ntlm",
					Usage: "look up NTLM instead of SHA-1 digests",
				},
				&cli.BoolFlag{
					Name:  "padding",
					Usage: "request padded range responses",
				},
				&cli.IntFlag{
					Name:  "retries",
					Usage: "retry failed range requests this many times",
				},
				&cli.StringFlag{
					Name:  "filters",
					Usage: "directory with range filters written by upload --out",
				},
			},
			Action: func(c *cli.Context) (err error) {
				return runPassword(c, envs, logger, os.Stdin, os.Stdout)
			},
		}, {
			Name:      "email",
			Usage:     "check email addresses, one request at a time",
			ArgsUsage: "EMAIL...",
			Action: func(c *cli.Context) (err error) {
				return runEmail(c, envs, logger, os.Stdout)
			},
		}},
	}

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}

		logger.ErrorContext(ctx, "breachcheck failed", slogutil.KeyError, err)

		os.Exit(exitFailure)
	}
}

// runPassword checks every line of in and prints one result line per input
// line to out.
func runPassword(
	c *cli.Context,
	envs *config.Environment,
	logger *slog.Logger,
	in io.Reader,
	out io.Writer,
) (err error) {
	ctx := c.Context

	alg := hibp.AlgorithmSHA1
	if c.Bool("ntlm") {
		alg = hibp.AlgorithmNTLM
	}

	conf := &hibp.RangeConfig{
		Client:      config.NewHTTPClient(logger, c.Int("retries")),
		Logger:      logger,
		URL:         envs.RangeURL,
		UserAgent:   envs.UserAgent,
		Timeout:     envs.LookupTimeout.Duration,
		MaxRespSize: envs.MaxRespSize,
		Algorithm:   alg,
		Padding:     c.Bool("padding"),
	}

	err = conf.Validate()
	if err != nil {
		return fmt.Errorf("range lookup: %w", err)
	}

	var chk checker = hibp.NewRangeClient(conf)
	if dir := c.String("filters"); dir != "" {
		chk = hibp.NewScreener(store.NewDirFilterSource(dir), hibp.NewRangeClient(conf), logger)
	}

	code := checkPasswords(ctx, chk, alg, in, out)
	if code != 0 {
		return cli.Exit("", code)
	}

	return nil
}

// checkPasswords checks every line of in and returns the exit code.
func checkPasswords(
	ctx context.Context,
	chk checker,
	alg hibp.Algorithm,
	in io.Reader,
	out io.Writer,
) (code int) {
	s := bufio.NewScanner(in)
	for s.Scan() {
		pw := strings.TrimRight(s.Text(), "\r")

		res, err := checkPassword(ctx, chk, alg, pw)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(out, "ERROR %s\n", err)
			code = exitFailure
		case res.Compromised:
			_, _ = fmt.Fprintf(out, "PWNED %d\n", res.Count)
			code = max(code, exitCompromised)
		default:
			_, _ = fmt.Fprintln(out, "OK")
		}
	}

	if err := s.Err(); err != nil {
		_, _ = fmt.Fprintf(out, "ERROR reading input: %s\n", err)

		return exitFailure
	}

	return code
}

// checkPassword hashes pw and checks the digest.
func checkPassword(
	ctx context.Context,
	chk checker,
	alg hibp.Algorithm,
	pw string,
) (res *hibp.LookupResult, err error) {
	if pw == "" {
		return nil, errEmptyPassword
	}

	return chk.Check(ctx, alg.Hash(pw))
}

// runEmail looks up every address from the arguments.  The breach client
// spaces the requests out.
func runEmail(c *cli.Context, envs *config.Environment, logger *slog.Logger, out io.Writer) (err error) {
	ctx := c.Context

	if c.NArg() == 0 {
		return errors.Error("no email addresses")
	}

	conf := &hibp.BreachConfig{
		Client:      config.NewHTTPClient(logger, 0),
		Logger:      logger,
		URL:         envs.BreachURL,
		APIKey:      envs.APIKey,
		UserAgent:   envs.UserAgent,
		Interval:    envs.BreachRequestIvl.Duration,
		Timeout:     envs.LookupTimeout.Duration,
		MaxRespSize: envs.MaxRespSize,
	}

	err = conf.Validate()
	if err != nil {
		return fmt.Errorf("breach lookup: %w", err)
	}

	bc := hibp.NewBreachClient(conf)

	code := 0
	for _, email := range c.Args().Slice() {
		var breaches []*hibp.BreachRecord
		breaches, err = bc.BreachedAccount(ctx, email)
		if err != nil {
			_, _ = fmt.Fprintf(out, "%s: ERROR %s\n", email, err)
			code = exitFailure

			continue
		}

		printBreaches(out, email, breaches)
		if len(breaches) > 0 {
			code = max(code, exitCompromised)
		}
	}

	if code != 0 {
		return cli.Exit("", code)
	}

	return nil
}

// printBreaches writes a short report on breaches of email to out.
func printBreaches(out io.Writer, email string, breaches []*hibp.BreachRecord) {
	if len(breaches) == 0 {
		_, _ = fmt.Fprintf(out, "%s: OK\n", email)

		return
	}

	_, _ = fmt.Fprintf(out, "%s: PWNED in %d breaches\n", email, len(breaches))
	for _, b := range breaches {
		_, _ = fmt.Fprintf(
			out,
			"  %s (%s): %d accounts, %s\n",
			b.Name,
			b.BreachDate,
			b.PwnCount,
			strings.Join(b.DataClasses, ", "),
		)
	}
}

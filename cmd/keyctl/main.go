// Command keyctl manages Keygate users and keys directly against the database.
//
// Usage:
//
//	keyctl register -email alice@example.com
//	keyctl revoke   -email alice@example.com
//	keyctl renew    -email alice@example.com -format json
//	keyctl show     -email alice@example.com
//	keyctl migrate  up|down
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
	"github.com/keygate/keygate/internal/service"
)

const usage = `usage: keyctl <command> [flags]

commands:
  register -email E   create a user and print its API key
  revoke   -email E   invalidate the user's key
  renew    -email E   issue a replacement key and print it
  show     -email E   print the user's public record
  migrate  up|down    apply or roll back schema migrations

DATABASE_URL (or -database-url) is required. When REDIS_URL (or -redis-url)
is set, revoke and renew also purge cached authentications.
`

// operator is the subset of the user service keyctl drives.
type operator interface {
	Provision(ctx context.Context, email string) (string, *model.User, error)
	Revoke(ctx context.Context, email string) (*model.User, error)
	Renew(ctx context.Context, email string) (string, *model.User, error)
	Lookup(ctx context.Context, email string) (*model.User, error)
}

// connectOptions says where keyctl finds its backing services.
type connectOptions struct {
	DatabaseURL string
	// RedisURL is optional. When set, revoke and renew purge the server's
	// auth cache so the old key stops working immediately.
	RedisURL   string
	Algorithm  string
	BcryptCost int
}

// openOperator connects to the database and, if configured, Redis.
// Replaced in tests.
var openOperator = func(ctx context.Context, opts connectOptions) (operator, func(), error) {
	hasher, err := auth.NewHasher(opts.Algorithm, opts.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	repo, err := repository.New(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	if opts.RedisURL == "" {
		return newOperator(repo, nil, hasher), repo.Close, nil
	}

	authCache, err := cache.New(ctx, opts.RedisURL)
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	closeFn := func() {
		_ = authCache.Close()
		repo.Close()
	}
	return newOperator(repo, authCache, hasher), closeFn, nil
}

// newOperator builds the user service keyctl drives. authCache may be nil.
func newOperator(store service.UserStore, authCache service.AuthCache, hasher auth.Hasher) operator {
	cfg := service.UserServiceConfig{Hasher: hasher}
	if authCache != nil {
		cfg.Cache = authCache
	}
	return service.NewUserService(store, cfg)
}

// output is printed for every user-level command.
type output struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	APIKey       string    `json:"api_key,omitempty"`
	KeyExpiresAt time.Time `json:"key_expires_at"`
	IsValid      bool      `json:"is_valid"`
	Message      string    `json:"message,omitempty"`
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]
	if cmd == "migrate" {
		return runMigrate(rest, stdout, stderr)
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		databaseURL = fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = fs.String("email", "", "User email")
		format      = fs.String("format", "plain", "Output format: plain or json")
		algorithm   = fs.String("hash-algorithm", envOr("HASH_ALGORITHM", auth.AlgorithmBcrypt), "Key hash algorithm: bcrypt or argon2id")
		redisURL    = fs.String("redis-url", os.Getenv("REDIS_URL"), "Redis connection string; auth cache entries are purged when set")
		bcryptCost  = fs.Int("bcrypt-cost", auth.DefaultBcryptCost, "bcrypt cost factor")
	)

	switch cmd {
	case "register", "revoke", "renew", "show":
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err := fs.Parse(rest); err != nil {
		return 2
	}
	if *email == "" {
		fmt.Fprintln(stderr, "-email is required")
		return 2
	}
	if *format != "plain" && *format != "json" {
		fmt.Fprintln(stderr, "invalid format; use plain or json")
		return 2
	}
	if *databaseURL == "" {
		fmt.Fprintln(stderr, "DATABASE_URL is required")
		return 1
	}

	op, closeFn, err := openOperator(ctx, connectOptions{
		DatabaseURL: *databaseURL,
		RedisURL:    *redisURL,
		Algorithm:   *algorithm,
		BcryptCost:  *bcryptCost,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer closeFn()

	out, err := execute(ctx, op, cmd, strings.TrimSpace(*email))
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		if errors.Is(err, service.ErrUserNotFound) || errors.Is(err, service.ErrAlreadyExists) {
			return 3
		}
		return 1
	}

	if err := write(stdout, *format, out); err != nil {
		fmt.Fprintln(stderr, "write output:", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, op operator, cmd, email string) (*output, error) {
	var (
		key  string
		user *model.User
		err  error
	)

	switch cmd {
	case "register":
		key, user, err = op.Provision(ctx, email)
	case "renew":
		key, user, err = op.Renew(ctx, email)
	case "revoke":
		user, err = op.Revoke(ctx, email)
	case "show":
		user, err = op.Lookup(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	out := &output{
		ID:           user.ID,
		Email:        user.Email,
		APIKey:       key,
		KeyExpiresAt: user.KeyExpiresAt,
		IsValid:      user.IsValid,
	}
	if key != "" {
		out.Message = model.KeyIssuedMessage
	}
	return out, nil
}

func write(w io.Writer, format string, out *output) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.APIKey != "" {
		_, err := fmt.Fprintln(w, out.APIKey)
		return err
	}
	_, err := fmt.Fprintf(w, "id=%d email=%s valid=%t expires=%s\n",
		out.ID, out.Email, out.IsValid, out.KeyExpiresAt.UTC().Format(time.RFC3339))
	return err
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}
	if direction != "up" && direction != "down" {
		fmt.Fprintf(stderr, "unknown migrate direction %q; use up or down\n", direction)
		return 2
	}
	if *databaseURL == "" {
		fmt.Fprintln(stderr, "DATABASE_URL is required")
		return 1
	}

	migrator, err := repository.NewMigrator(*databaseURL)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = migrator.Close() }()

	if direction == "up" {
		err = migrator.Up()
	} else {
		err = migrator.Down()
	}
	if err != nil {
		fmt.Fprintf(stderr, "migrate %s: %v\n", direction, err)
		return 1
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		fmt.Fprintln(stderr, "read schema version:", err)
		return 1
	}
	fmt.Fprintf(stdout, "schema version %d (dirty=%t)\n", version, dirty)
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

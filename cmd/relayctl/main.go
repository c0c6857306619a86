package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// relayctl is the operator companion for the gateway: it inspects and
// seeds the user directory and mints tokens for testing, working
// directly against the Badger store while the gateway is down (or in
// read-only bypass mode while it is up).
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	secret := flag.String("secret", "", "JWT signing secret (required for seed and token)")
	issuer := flag.String("issuer", "chat-relay", "JWT issuer")
	tokenTTL := flag.Duration("ttl", 24*time.Hour, "Lifetime of minted tokens")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "list"
	}

	switch cmd {
	case "list":
		runList(*dbPath)
	case "seed":
		requireSecret(*secret)
		runSeed(*dbPath, *secret, *issuer, *tokenTTL)
	case "token":
		requireSecret(*secret)
		runToken(*dbPath, *secret, *issuer, *tokenTTL, flag.Arg(1))
	default:
		log.Fatalf("unknown command %q (expected list, seed or token)", cmd)
	}
}

// runList prints every user record in the directory.
func runList(dbPath string) {
	db, err := openDB(dbPath, true)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	users, err := storage.NewUserDirectory(db).ListUsers(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	table := newTable()
	table.SetHeader([]string{"User ID", "Username", "Created At"})
	for _, u := range users {
		table.Append([]string{u.ID, u.Username, u.CreatedAt.Format(time.RFC3339)})
	}
	table.Render()

	color.Green.Printf("%d user(s)\n", len(users))
}

// runSeed inserts a handful of demo accounts and prints a ready-to-use
// token for each one.
func runSeed(dbPath, secret, issuer string, ttl time.Duration) {
	db, err := openDB(dbPath, false)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	directory := storage.NewUserDirectory(db)
	verifier := auth.NewTokenVerifier(secret, issuer)
	ctx := context.Background()

	table := newTable()
	table.SetHeader([]string{"User ID", "Username", "Token"})

	for _, username := range []string{"alice", "bob", "carol"} {
		user := domain.User{
			ID:        uuid.NewString(),
			Username:  username,
			CreatedAt: time.Now().UTC(),
		}
		if err := directory.PutUser(ctx, user); err != nil {
			log.Fatalf("seed %s: %v", username, err)
		}

		token, err := verifier.Issue(user.ID, ttl)
		if err != nil {
			log.Fatalf("token for %s: %v", username, err)
		}
		table.Append([]string{user.ID, user.Username, token})
	}

	table.Render()
	color.Green.Println("Seeded 3 demo users")
}

// runToken mints a token for an existing user id.
func runToken(dbPath, secret, issuer string, ttl time.Duration, userID string) {
	if userID == "" {
		log.Fatal("usage: relayctl token <user-id>")
	}

	db, err := openDB(dbPath, true)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	user, err := storage.NewUserDirectory(db).GetUserByID(context.Background(), userID)
	if err != nil {
		log.Fatalf("lookup %s: %v", userID, err)
	}

	token, err := auth.NewTokenVerifier(secret, issuer).Issue(user.ID, ttl)
	if err != nil {
		log.Fatal(err)
	}

	color.Cyan.Printf("Token for %s (%s):\n", user.Username, user.ID)
	fmt.Println(token)
}

func requireSecret(secret string) {
	if secret == "" {
		log.Fatal("-secret is required for this command")
	}
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func openDB(path string, readOnly bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithBypassLockGuard(true)
	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil && readOnly && strings.Contains(err.Error(), "Log truncate required") {
		// A dirty shutdown leaves the value log needing a truncate,
		// which read-only mode refuses. Open writable once to repair.
		repairOpts := badger.DefaultOptions(path).
			WithLogger(nil).WithBypassLockGuard(true)
		repair, repairErr := badger.Open(repairOpts)
		if repairErr != nil {
			return nil, fmt.Errorf("repair failed: %w", repairErr)
		}
		_ = repair.Close()
		return badger.Open(opts)
	}
	return db, err
}

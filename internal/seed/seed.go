// Package seed loads a YAML fixture of users, balances, auctions and lots
// through the same auth, wallet and engine code the API uses.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/auction"
	"github.com/xtrntr/auctionroom/internal/auth"
	"github.com/xtrntr/auctionroom/internal/models"
	"gopkg.in/yaml.v3"
)

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Balance  string `yaml:"balance"`
}

type Lot struct {
	Title        string `yaml:"title"`
	MinBid       string `yaml:"min_bid"`
	BidIncrement string `yaml:"bid_increment"`
}

type Auction struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Lots  []Lot  `yaml:"lots"`
}

type Fixture struct {
	Users    []User    `yaml:"users"`
	Auctions []Auction `yaml:"auctions"`
}

// Depositor credits wallets.
type Depositor interface {
	Deposit(ctx context.Context, userID int, amount decimal.Decimal) error
}

// Result maps seeded usernames to ids and lists the created auctions.
type Result struct {
	Users    map[string]int
	Auctions []models.Auction
}

// Load reads and parses a fixture file.
func Load(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func amount(s, fallback string) (decimal.Decimal, error) {
	if s == "" {
		s = fallback
	}
	return decimal.NewFromString(s)
}

// Apply creates the fixture's users and auctions. Users that already exist
// are looked up and keep their balance; only new users are funded.
func Apply(ctx context.Context, f *Fixture, authService *auth.AuthService, funds Depositor, eng *auction.Engine) (*Result, error) {
	res := &Result{Users: make(map[string]int)}

	for _, u := range f.Users {
		balance, err := amount(u.Balance, "0")
		if err != nil {
			return res, fmt.Errorf("user %s: invalid balance %q: %w", u.Username, u.Balance, err)
		}

		created := true
		user, err := authService.Register(ctx, u.Username, u.Password)
		if errors.Is(err, auth.ErrUsernameTaken) {
			created = false
			user, err = authService.Users.GetUserByUsername(ctx, u.Username)
		}
		if err != nil {
			return res, fmt.Errorf("user %s: %w", u.Username, err)
		}
		res.Users[u.Username] = user.ID

		if created && balance.IsPositive() {
			if err := funds.Deposit(ctx, user.ID, balance); err != nil {
				return res, fmt.Errorf("user %s: deposit: %w", u.Username, err)
			}
		}
		log.Info().
			Str("username", u.Username).
			Int("user_id", user.ID).
			Bool("created", created).
			Str("deposit", balance.StringFixed(2)).
			Msg("seeded user")
	}

	for _, a := range f.Auctions {
		owner, ok := res.Users[a.Owner]
		if !ok {
			return res, fmt.Errorf("auction %s: owner %q is not a seeded user", a.Name, a.Owner)
		}
		now := eng.Timer().Now()
		created, err := eng.CreateAuction(ctx, owner, a.Name, now, now.AddDate(0, 0, 7))
		if err != nil {
			return res, fmt.Errorf("auction %s: %w", a.Name, err)
		}
		for _, l := range a.Lots {
			minBid, err := amount(l.MinBid, "1")
			if err != nil {
				return res, fmt.Errorf("lot %s: invalid min_bid %q: %w", l.Title, l.MinBid, err)
			}
			inc, err := amount(l.BidIncrement, "1")
			if err != nil {
				return res, fmt.Errorf("lot %s: invalid bid_increment %q: %w", l.Title, l.BidIncrement, err)
			}
			if _, err := eng.CreateLot(ctx, owner, created.ID, l.Title, minBid, inc); err != nil {
				return res, fmt.Errorf("lot %s: %w", l.Title, err)
			}
		}
		res.Auctions = append(res.Auctions, *created)
		log.Info().Int("auction_id", created.ID).Str("name", created.Name).Int("lots", len(a.Lots)).Msg("seeded auction")
	}
	return res, nil
}

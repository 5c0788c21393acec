package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/lifecycle"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
	"github.com/speedrun-hq/tokenrunner/pkg/txbuilder"
)

// single builds the intent of a one-off transaction for the signing account
type single func(c *cli.Context, e *env, account string) (models.TransactionIntent, error)

func txCommand() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "submit a single transaction and wait for its final outcome",
		Subcommands: []*cli.Command{
			{
				Name:   "issue",
				Usage:  "send newly issued tokens to a holder",
				Flags:  []cli.Flag{required("to"), required("currency"), required("value")},
				Action: withEnv(submitSingle(buildIssue)),
			},
			{
				Name:   "burn",
				Usage:  "return tokens to their issuer",
				Flags:  []cli.Flag{required("issuer"), required("currency"), required("value")},
				Action: withEnv(submitSingle(buildBurn)),
			},
			{
				Name:  "pay",
				Usage: "send XRP",
				Flags: []cli.Flag{
					required("to"),
					required("xrp"),
					&cli.UintFlag{Name: "tag"},
					&cli.StringFlag{Name: "memo"},
				},
				Action: withEnv(submitSingle(func(c *cli.Context, _ *env, account string) (models.TransactionIntent, error) {
					amount, err := ledger.XRP(c.String("xrp"))
					if err != nil {
						return nil, err
					}
					p := txbuilder.Payment{Account: account, Destination: c.String("to"), Amount: amount, Memo: c.String("memo")}
					if c.IsSet("tag") {
						tag := uint32(c.Uint("tag"))
						p.DestinationTag = &tag
					}
					return p.Intent()
				})),
			},
			{
				Name:  "trustline",
				Usage: "create or change a trust line",
				Flags: []cli.Flag{required("issuer"), required("currency"), required("limit")},
				Action: withEnv(submitSingle(func(c *cli.Context, _ *env, account string) (models.TransactionIntent, error) {
					limit, err := ledger.Issued(c.String("currency"), c.String("issuer"), c.String("limit"))
					if err != nil {
						return nil, err
					}
					return txbuilder.TrustSet{Account: account, Limit: limit}.Intent()
				})),
			},
			{
				Name:  "default-ripple",
				Usage: "enable rippling on the issuing account",
				Action: withEnv(submitSingle(func(_ *cli.Context, _ *env, account string) (models.TransactionIntent, error) {
					return txbuilder.DefaultRipple(account)
				})),
			},
			{
				Name:  "accept-offer",
				Usage: "accept an NFToken offer, by index with --sell/--buy or looked up with --nft and --offer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sell"},
					&cli.StringFlag{Name: "buy"},
					&cli.StringFlag{Name: "nft", Usage: "NFToken the offer is for"},
					&cli.StringFlag{Name: "offer", Usage: "offer index, sell or buy"},
				},
				Action: withEnv(submitSingle(buildAcceptOffer)),
			},
		},
	}
}

func required(name string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Required: true}
}

func buildIssue(c *cli.Context, e *env, account string) (models.TransactionIntent, error) {
	amount, err := ledger.Issued(c.String("currency"), account, c.String("value"))
	if err != nil {
		return nil, err
	}
	if err := e.checks.CanReceive(c.Context, c.String("to"), amount); err != nil {
		return nil, err
	}
	return txbuilder.Issue(account, c.String("to"), c.String("currency"), c.String("value"))
}

func buildBurn(c *cli.Context, e *env, account string) (models.TransactionIntent, error) {
	amount, err := ledger.Issued(c.String("currency"), c.String("issuer"), c.String("value"))
	if err != nil {
		return nil, err
	}
	if err := e.checks.CanBurn(c.Context, account, amount); err != nil {
		return nil, err
	}
	return txbuilder.Burn(account, amount.Issuer, c.String("currency"), c.String("value"))
}

func buildAcceptOffer(c *cli.Context, e *env, account string) (models.TransactionIntent, error) {
	accept := txbuilder.NFTokenAcceptOffer{Account: account, SellOfferID: c.String("sell"), BuyOfferID: c.String("buy")}
	if id := c.String("offer"); id != "" {
		if c.String("nft") == "" {
			return nil, fmt.Errorf("--offer needs the NFToken it belongs to in --nft")
		}
		offer, sell, err := e.checks.Offer(c.Context, c.String("nft"), id)
		if err != nil {
			return nil, err
		}
		if offer.Destination != "" && offer.Destination != account {
			return nil, fmt.Errorf("offer %s is reserved for %s", id, offer.Destination)
		}
		if sell {
			accept.SellOfferID = offer.OfferIndex
		} else {
			accept.BuyOfferID = offer.OfferIndex
		}
	}
	return accept.Intent()
}

func submitSingle(build single) func(c *cli.Context, e *env) error {
	return func(c *cli.Context, e *env) error {
		s, err := e.signer(c.Context)
		if err != nil {
			return err
		}
		intent, err := build(c, e, s.Address())
		if err != nil {
			return err
		}
		outcome := e.engine.SubmitAndVerify(c.Context, intent, s, e.policy, announce(os.Stdout, e.cfg.Network))
		return report(e, s, outcome)
	}
}

// announce prints the hash as soon as the server accepted the blob, so an interrupted
// command still leaves the operator something to look up
func announce(w io.Writer, network string) lifecycle.Hooks {
	return lifecycle.Hooks{
		AfterSubmit: func(sub *lifecycle.Submission) error {
			_, err := fmt.Fprintf(w, "Submitted %s (%s, last ledger %d), waiting for validation\n",
				explorerLink(network, sub.Signed.Hash), sub.Preliminary, sub.Signed.LastLedgerSequence)
			return err
		},
	}
}

func report(e *env, s signer.Signer, outcome lifecycle.Outcome) error {
	switch o := outcome.(type) {
	case *lifecycle.Confirmed:
		fmt.Printf("%s confirmed in ledger %d: %s\n", colored("verified"), o.LedgerIndex, explorerLink(e.cfg.Network, o.Hash))
		if o.Meta != nil && o.Meta.NFTokenID != "" {
			fmt.Printf("NFToken %s\n", o.Meta.NFTokenID)
		}
		return nil
	case *lifecycle.DefinitivelyFailed:
		return fmt.Errorf("transaction %s failed with %s", o.Hash, o.Result)
	case *lifecycle.ExpiredUnconfirmed:
		return fmt.Errorf("transaction %s expired unconfirmed at ledger %d (last ledger %d)", o.Hash, o.ObservedLedger, o.LastLedgerSequence)
	case *lifecycle.Aborted:
		if o.Declined() {
			fmt.Printf("Signing was declined on the %s signer, nothing was submitted\n", s.Backend())
			return nil
		}
		return o
	}
	return fmt.Errorf("unexpected outcome %T", outcome)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/storage"
	"github.com/uhyunpark/noteswap/pkg/wallet"
)

const usage = `notecompile: build a pool note and print its input layout and id.

Usage:
  notecompile swap <sell> <buy> <amount> <min-out> --pool=<id> --sender=<id> [options]
  notecompile deposit <faucet> <amount> <min-out> --pool=<id> --sender=<id> [--private] [options]
  notecompile withdraw <faucet> <amount> <min-out> --pool=<id> --sender=<id> [--private] [options]
  notecompile -h | --help

Amounts are base units. Without --rpc, scripts are compiled by an in-memory
ledger and the script roots will not match the network's.

Options:
  -h --help          Show this screen.
  --private          Private note (deposit and withdraw only).
  --network=<net>    testnet or mainnet [default: testnet].
  --rpc=<url>        Ledger gateway used to compile the scripts.
  --scripts=<dir>    Directory overriding the bundled note scripts.
  --key=<hex>        Sign the resulting transaction request with this key.
  --json             Also print the note as JSON.
`

type opts struct {
	Swap     bool   `docopt:"swap"`
	Deposit  bool   `docopt:"deposit"`
	Withdraw bool   `docopt:"withdraw"`
	Sell     string `docopt:"<sell>"`
	Buy      string `docopt:"<buy>"`
	Faucet   string `docopt:"<faucet>"`
	Amount   string `docopt:"<amount>"`
	MinOut   string `docopt:"<min-out>"`
	Pool     string `docopt:"--pool"`
	Sender   string `docopt:"--sender"`
	Private  bool   `docopt:"--private"`
	Network  string `docopt:"--network"`
	RPC      string `docopt:"--rpc"`
	Scripts  string `docopt:"--scripts"`
	Key      string `docopt:"--key"`
	JSON     bool   `docopt:"--json"`
	Help     bool   `docopt:"--help"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	parser := &docopt.Parser{HelpHandler: docopt.PrintHelpOnly}
	parsed, err := parser.ParseArgs(usage, args, "")
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}
	var o opts
	if err := parsed.Bind(&o); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}
	if o.Help {
		return 0
	}
	if err := compile(context.Background(), o, out); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	return 0
}

func compile(ctx context.Context, o opts, out io.Writer) error {
	network := ledger.NetworkID(o.Network)
	pool, err := ledger.ParseAccountID(o.Pool)
	if err != nil {
		return fmt.Errorf("--pool: %w", err)
	}
	sender, err := ledger.ParseAccountID(o.Sender)
	if err != nil {
		return fmt.Errorf("--sender: %w", err)
	}
	amount, err := strconv.ParseUint(o.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("<amount>: %w", err)
	}
	minOut, err := strconv.ParseUint(o.MinOut, 10, 64)
	if err != nil {
		return fmt.Errorf("<min-out>: %w", err)
	}
	scripts, err := notes.LoadScripts(o.Scripts)
	if err != nil {
		return err
	}

	var backend notes.ScriptBackend = ledgertest.New()
	if o.RPC != "" {
		cache, err := storage.NewMemPebbleStore()
		if err != nil {
			return err
		}
		defer cache.Close()
		backend = ledger.NewRPCClient(o.RPC, cache, nil)
	}
	compiler := notes.NewCompiler(backend, notes.WithScripts(scripts))

	visibility := ledger.NotePublic
	if o.Private {
		visibility = ledger.NotePrivate
	}

	var compiled *notes.Compiled
	switch {
	case o.Swap:
		sell, err := ledger.ParseAccountID(o.Sell)
		if err != nil {
			return fmt.Errorf("<sell>: %w", err)
		}
		buy, err := ledger.ParseAccountID(o.Buy)
		if err != nil {
			return fmt.Errorf("<buy>: %w", err)
		}
		compiled, err = compiler.Swap(ctx, notes.SwapParams{
			Pool: pool, Sender: sender, Sell: sell, Buy: buy, Amount: amount, MinAmountOut: minOut,
		})
		if err != nil {
			return err
		}
	case o.Deposit, o.Withdraw:
		faucet, err := ledger.ParseAccountID(o.Faucet)
		if err != nil {
			return fmt.Errorf("<faucet>: %w", err)
		}
		if o.Deposit {
			compiled, err = compiler.Deposit(ctx, notes.DepositParams{
				Pool: pool, Sender: sender, Faucet: faucet, Amount: amount, MinSharesOut: minOut, Type: visibility,
			})
		} else {
			compiled, err = compiler.Withdraw(ctx, notes.WithdrawParams{
				Pool: pool, Sender: sender, Faucet: faucet, Amount: amount, MinAmountOut: minOut, Type: visibility,
			})
		}
		if err != nil {
			return err
		}
	}

	printNote(out, network, compiled)

	if o.JSON {
		b, err := json.MarshalIndent(compiled.Note, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nNote (JSON):\n%s\n", b)
	}

	if o.Key != "" {
		return sign(out, o.Key, compiled)
	}
	return nil
}

func printNote(out io.Writer, network ledger.NetworkID, c *notes.Compiled) {
	n := c.Note
	fmt.Fprintf(out, "Kind:      %s\n", c.Kind)
	fmt.Fprintf(out, "Note ID:   %s\n", c.NoteID)
	fmt.Fprintf(out, "Pool:      %s\n", c.Pool.Bech32(network))
	fmt.Fprintf(out, "Sender:    %s\n", c.Sender.Bech32(network))
	fmt.Fprintf(out, "Type:      %s\n", n.Metadata.Type)
	fmt.Fprintf(out, "Tag:       0x%08x\n", n.Metadata.Tag.Uint32())
	fmt.Fprintf(out, "Deadline:  %s\n", c.Deadline.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Script:    %s\n", n.Recipient.Script.Root)

	fmt.Fprintln(out, "Assets:")
	if len(n.Assets) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, a := range n.Assets {
		fmt.Fprintf(out, "  %d of %s\n", a.Amount, a.Faucet.Bech32(network))
	}

	labels := slotLabels(c.Kind)
	fmt.Fprintln(out, "Inputs:")
	for i, f := range n.Recipient.Inputs {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Fprintf(out, "  [%2d] %-20s %s\n", i, label, f)
	}
}

func slotLabels(kind notes.Kind) []string {
	labels := make([]string, 12)
	set := func(i int, s string) { labels[i] = s }
	switch kind {
	case notes.KindSwap:
		l := notes.SwapLayout
		set(l.MinAmountOut, "min_amount_out")
		set(l.BuySuffix, "buy.suffix")
		set(l.BuyPrefix, "buy.prefix")
		set(l.Deadline, "deadline")
		set(l.ReturnTag, "return_tag")
		set(l.SenderSuffix, "sender.suffix")
		set(l.SenderPrefix, "sender.prefix")
	case notes.KindDeposit:
		l := notes.DepositLayout
		set(l.MinSharesOut, "min_shares_out")
		set(l.Deadline, "deadline")
		set(l.ReturnTag, "return_tag")
		set(l.SenderSuffix, "sender.suffix")
		set(l.SenderPrefix, "sender.prefix")
	case notes.KindWithdraw:
		l := notes.WithdrawLayout
		set(l.AssetAmount, "asset.amount")
		set(l.AssetSuffix, "asset.suffix")
		set(l.AssetPrefix, "asset.prefix")
		set(l.MinAmountOut, "min_amount_out")
		set(l.Deadline, "deadline")
		set(l.ReturnTag, "return_tag")
		set(l.SenderSuffix, "sender.suffix")
		set(l.SenderPrefix, "sender.prefix")
	}
	return labels
}

func sign(out io.Writer, keyHex string, c *notes.Compiled) error {
	key, err := wallet.FromPrivateKeyHex(keyHex)
	if err != nil {
		return err
	}
	tx, err := wallet.NewLocal(key, nil, nil).Sign(&ledger.TransactionRequest{
		Account:      c.Sender,
		Counterparty: c.Pool,
		OutputNotes:  []ledger.Note{*c.Note},
	})
	if err != nil {
		return err
	}
	if err := wallet.Verify(tx); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSigned by %s (verified)\n%s\n", tx.Signer, b)
	return nil
}

// chaindump replays a persisted change-set log and prints the chain
// and canonical transaction view it reconstructs. Useful for checking
// what state a wallet would come back up with.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"

	"github.com/matthiasdebernardini/bdk"
	"github.com/matthiasdebernardini/bdk/db"
)

func main() {

	levelDBPath := flag.String("leveldb", "", "/path/to/changeset/log (LevelDb)")
	connStr := flag.String("connstr", "", "Postgres connection string")
	network := flag.String("network", "mainnet", "mainnet, testnet or regtest")
	verbose := flag.Bool("v", false, "Debug logging")

	flag.Parse()

	if *levelDBPath == "" && *connStr == "" {
		log.Fatalf("-leveldb or -connstr required.")
	}
	if *levelDBPath != "" && *connStr != "" {
		log.Fatalf("-leveldb and -connstr are mutually exclusive")
	}

	if *verbose {
		backend := btclog.NewBackend(os.Stderr)
		logger := backend.Logger("BDK")
		logger.SetLevel(btclog.LevelDebug)
		bdk.UseLogger(logger)
		db.UseLogger(logger)
	}

	var params *chaincfg.Params
	switch *network {
	case "mainnet":
		params = &chaincfg.MainNetParams
	case "testnet":
		params = &chaincfg.TestNet3Params
	case "regtest":
		params = &chaincfg.RegressionNetParams
	default:
		log.Fatalf("Unknown network: %s", *network)
	}

	var (
		store db.Store[bdk.BlockID]
		err   error
	)
	if *levelDBPath != "" {
		store, err = db.OpenLevelDB[bdk.BlockID](*levelDBPath)
	} else {
		store, err = db.OpenPG[bdk.BlockID](*connStr)
	}
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	defer store.Close()

	agg, err := store.Aggregate()
	if err != nil {
		log.Fatalf("Error aggregating change sets: %v", err)
	}

	var chain *bdk.LocalChain
	if _, ok := agg.Chain[0]; ok {
		chain, err = bdk.NewLocalChainFromChangeSet(agg.Chain)
		if err != nil {
			log.Fatalf("Error rebuilding chain: %v", err)
		}
	} else {
		chain, _ = bdk.NewLocalChain(*params.GenesisHash)
	}

	graph := bdk.NewTxGraph[bdk.BlockID]()
	graph.ApplyChangeSet(agg.Graph)

	tip, _ := chain.Tip()
	fmt.Printf("tip: %v\n", tip)
	for _, cp := range chain.Checkpoints() {
		fmt.Printf("checkpoint: %v\n", cp)
	}

	snap, err := bdk.CanonicalView(graph, chain, tip)
	if err != nil {
		log.Fatalf("Error computing canonical view: %v", err)
	}

	for _, ctx := range snap.CanonicalTxs() {
		fmt.Printf("canonical: %v %v\n", ctx.Tx.Hash(), ctx.Pos)
	}
	for _, txid := range graph.TxIDs() {
		switch snap.Status(txid) {
		case bdk.StatusNotCanonical:
			fmt.Printf("not canonical: %v\n", txid)
		case bdk.StatusUnknown:
			fmt.Printf("unknown: %v\n", txid)
		}
	}
	for _, hz := range snap.Hazards() {
		fmt.Printf("hazard: %v anchored at %d distinct blocks\n", hz.TxID, len(hz.Blocks))
	}
}

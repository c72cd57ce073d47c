// Package cli implements tariff-cli, a local front end to the pricing engine.
//
//	tariff-cli quote --catalog prices.yaml price_seats 15
//	tariff-cli preview --catalog prices.yaml --subscription sub.json \
//	    --signal change_quantity --item si_seats --quantity-delta 5
//	tariff-cli commit --catalog prices.yaml --subscription sub.json \
//	    --signal change_quantity --item si_seats --quantity-delta 5 --ledger ledger.db
//	tariff-cli tiers validate prices.yaml
//
// Commits are recorded in a local SQLite ledger, so running the same commit
// twice replays the first result instead of charging again.
package cli

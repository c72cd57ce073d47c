// Package catalog loads prices from a YAML document.
//
// A catalog file lists prices in the same shape they are persisted in:
//
//	prices:
//	  - id: price_seats
//	    charge_type: graduated
//	    currency: USD
//	    tiers:
//	      - {up_to: 10, unit_amount: 100}
//	      - {up_to: null, unit_amount: 80}
//	  - id: price_storage
//	    charge_type: package
//	    currency: USD
//	    package: {free_units: 5, package_size: 10, amount: 500}
//
// A Catalog implements billing.PriceLookup. Its contents can be replaced
// while serving, either from a local file through a Watcher or from object
// storage through an S3Source. A document that fails validation never
// replaces the prices already loaded.
package catalog

// Package compiler loads sync-rule definitions from files and checks them
// statically.
//
// A rules directory holds CUE files of one package and YAML files. Both
// declare module configurations in their stored form:
//
//	module: orders: {
//		formConfig: collName: "_mc_orders"
//		dataSync: [{
//			uid:           1
//			name:          "orders to invoices"
//			enable:        true
//			triggerAction: ["add"]
//			...
//		}]
//	}
//
// YAML files use the same layout under a top-level "module" mapping.
//
// Loaded modules convert to rule.SyncRule values through the same code path
// as configurations read from the database, so a rule that validates here
// behaves identically when stored.
package compiler

// Package core provides the business logic for importing remote sheet feeds
// into Postgres.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport layer. It can be used by web handlers, CLI
// tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Sheet Definitions: Registered via the registry, each sheet pairs a key
//     and display metadata with a cellfeed source for one remote worksheet.
//   - Service: The main entry point for all operations (import, history,
//     rollback, records).
//   - Imports: Each import drains the sheet's record source into the
//     sheet_records table under a fresh import ID, with progress broadcast
//     to subscribers.
//
// # Sheet Registry
//
// Sheets are registered at startup from the configured sheets file using
// [RegisterSheetsFile], or programmatically with [Register]:
//
//	core.Register(core.SheetDefinition{
//	    Info:   core.SheetInfo{Key: "crm_contacts", Group: "CRM", Label: "Contacts"},
//	    Source: src,
//	})
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FEED001-FEED004: Feed fetch/parse errors
//   - CFG001-CFG002: Configuration errors (unknown sheet, bad sheets file)
//   - IMP001-IMP004: Import lifecycle errors (busy, cancelled, not found)
//   - DB001-DB003: Database errors
package core

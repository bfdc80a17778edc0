// Package tidesync periodically copies rows from external relational tables
// and paginated JSON APIs into a schema-flexible document store, detecting
// and versioning changes as they occur.
//
// A pipeline names a source, a field map and a schedule. On each run the
// sync engine introspects the source schema, resolves a primary key, pages
// through the source in key order and diffs every batch against the stored
// documents: new rows become documents, changed rows overwrite their
// document and append the superseded payload to a history log, unchanged
// rows are only marked as checked.
//
// # Quick Start
//
// Define a pipeline in JSON:
//
//	{
//	  "name": "customers",
//	  "sourceKind": "database",
//	  "dataSource": {
//	    "dbType": "postgres",
//	    "host": "db.internal", "port": 5432,
//	    "user": "sync", "password": "...",
//	    "database": "crm", "table": "customers"
//	  },
//	  "schedule": {"type": "every", "minutes": 15}
//	}
//
// Register and run it:
//
//	tidesync create --file customers.json
//	tidesync run --pipeline customers
//	tidesync loop
//
// # Key Packages
//
//	pkg/schema   - Schema inference from column metadata or sampled rows
//	pkg/source   - Source connectors (relational databases, JSON APIs)
//	pkg/mapping  - Field maps with a restricted expression language
//	pkg/store    - Postgres-backed document and history storage
//	pkg/pipeline - Pipeline model, sync engine and scheduler
package tidesync

// Package ingest turns external tabular financial data into normalized
// transaction records.
//
// The package has no transport or storage dependencies and can be driven by
// the web server, the CLI, or tests without modification.
//
// # Pipeline
//
// Ingestion runs in three stages, each a plain function of its inputs:
//
//  1. [Prober] inspects every sheet of a [Document] and recommends the sheet
//     most likely to hold transactions.
//  2. [Classifier] infers a [ColumnType] for each column of a sampled sheet and
//     [SuggestMapping] proposes a [FieldMapping] onto canonical fields.
//  3. [Materializer] converts rows into [TransactionRecord] values using a
//     (possibly caller-edited) mapping.
//
//	doc, _ := ingest.Open(r, ingest.FormatWorkbook, "statement.xlsx", ingest.DefaultLimits())
//	defer doc.Close()
//	probe, _ := ingest.NewProber(ingest.DefaultProbeRules()).Probe(doc)
//	table, _ := ingest.ReadSheet(doc, probe.RecommendedSheet, ingest.DefaultLimits())
//	classifier := ingest.NewClassifier(ingest.DefaultClassifierRules())
//	types := classifier.ClassifyColumns(table.Sample(20))
//	report := classifier.AssessQuality(table.Head(20), types)
//	mapping := ingest.SuggestMapping(types, table.Header)
//	result := ingest.NewMaterializer(ingest.DefaultMaterializerRules()).Materialize(table.All(), mapping)
//
// # Errors
//
// Whole-source problems are fatal and reported before any record is produced:
// [ErrSourceUnreadable], [ErrSourceTooLarge] and [ErrSourceStructureInvalid].
// Row problems ([DateParseError], [AmountParseError], any other conversion
// failure) only drop the offending row; they are collected in [Result.Errors].
package ingest

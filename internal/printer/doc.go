// Package printer renders the agent's response documents.
//
// Printers are a capability: probe, current, sample, assets, and error
// documents, plus schema-version and model-change-time setters. The XML
// variant produces the canonical MTConnect documents; the JSON variant
// supports both layout versions. The kernel keeps an id-to-printer map and
// never depends on which variant is behind it.
package printer

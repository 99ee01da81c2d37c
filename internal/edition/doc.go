// Package edition holds the front-page domain model shared by the ingestion
// components: the Edition record, the source-tagged raw extracts, the
// business key helpers, the failure taxonomy and the ports implemented by
// adapters.
package edition

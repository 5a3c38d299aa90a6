package bursar

import "github.com/xraph/bursar/id"

// ID is the identifier type of records created by the engine.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix

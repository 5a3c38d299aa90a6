package bursar

import "github.com/xraph/bursar/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	BDT       = types.BDT
	INR       = types.INR
	USD       = types.USD
	Zero      = types.Zero
	FromMajor = types.FromMajor
	Sum       = types.Sum
)

// NewEntityAt is re-exported from types package.
var NewEntityAt = types.NewEntityAt

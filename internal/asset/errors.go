package asset

import "errors"

// Domain errors for the asset package.
var (
	// ErrInvalidAsset is returned when an asset payload cannot be parsed.
	// A payload without an assetId parses without error; callers check the id.
	ErrInvalidAsset = errors.New("asset: invalid payload")

	// ErrAssetNotFound is returned when an asset id does not resolve.
	ErrAssetNotFound = errors.New("asset: not found")
)

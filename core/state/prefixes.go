package state

var (
	marketListingPrefix    = []byte("market/listing/")
	marketNextListingKey   = []byte("market/listing/next-id")
	marketRoyaltyPrefix    = []byte("market/royalty/")
	assetCollectionPrefix  = []byte("assets/collection/")
	assetCollectionListKey = []byte("assets/collection/list")
	assetTokenPrefix       = []byte("assets/token/")
	assetOperatorPrefix    = []byte("assets/operator/")
	genesisMarkerKey       = []byte("genesis/applied")
)

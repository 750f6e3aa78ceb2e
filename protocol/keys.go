package protocol

// Callback key spellings used by the provider across versions. Lookups are also
// case-insensitive, so these lists only fix the order of preference.
var (
	ownerKeyAliases        = []string{"publicKeyAdded", "publicKey", "PublicKeyBase58Check"}
	derivedKeyAliases      = []string{"derivedPublicKeyBase58Check", "DerivedPublicKeyBase58Check"}
	accessSignatureAliases = []string{"accessSignature", "AccessSignature"}
	spendingLimitAliases   = []string{"transactionSpendingLimitHex", "TransactionSpendingLimitHex"}
	primaryTokenAliases    = []string{"jwt", "JWT"}
	derivedTokenAliases    = []string{"derivedJwt", "DerivedJWT"}
	expirationBlockAliases = []string{"expirationBlock", "ExpirationBlock"}
	signedTxAliases        = []string{
		"signedTransactionHex", "SignedTransactionHex",
		"transactionHex", "TransactionHex",
		"txHex", "TxHex",
	}
	usersAliases    = []string{"users"}
	signedUpAliases = []string{"signedUp", "SignedUp"}
)

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

var (
	loginResultKeys  = ownerKeyAliases
	deriveResultKeys = concat(derivedKeyAliases, accessSignatureAliases)
	signResultKeys   = signedTxAliases
)

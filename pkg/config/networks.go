package config

const (
	Mainnet = "mainnet"
	Testnet = "testnet"
	Devnet  = "devnet"
	Xahau   = "xahau"
)

// networkRPCURLs maps network names to their public JSON-RPC servers
var networkRPCURLs = map[string]string{
	Mainnet: "https://xrplcluster.com",
	Testnet: "https://s.altnet.rippletest.net:51234",
	Devnet:  "https://s.devnet.rippletest.net:51234",
	Xahau:   "https://xahau.network",
}

// networkExplorers maps network names to a transaction explorer base URL
var networkExplorers = map[string]string{
	Mainnet: "https://livenet.xrpl.org/transactions/",
	Testnet: "https://testnet.xrpl.org/transactions/",
	Devnet:  "https://devnet.xrpl.org/transactions/",
	Xahau:   "https://explorer.xahau.network/tx/",
}

// GetDefaultRPCURL returns the public RPC server for a network
func GetDefaultRPCURL(network string) string {
	return networkRPCURLs[network]
}

// GetExplorerURL returns an explorer link for a transaction hash, or an empty string for unknown networks
func GetExplorerURL(network, hash string) string {
	base, exists := networkExplorers[network]
	if !exists {
		return ""
	}
	return base + hash
}

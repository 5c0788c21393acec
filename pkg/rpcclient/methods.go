package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
)

const pageLimit = 200

// AccountInfo returns the account root against the current (open) ledger
func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountInfoResult, error) {
	var out AccountInfoResult
	err := c.callInto(ctx, "account_info", map[string]interface{}{
		"account":      account,
		"ledger_index": "current",
		"strict":       true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NextSequence returns the sequence the account's next transaction must use
func (c *Client) NextSequence(ctx context.Context, account string) (uint32, error) {
	info, err := c.AccountInfo(ctx, account)
	if err != nil {
		return 0, err
	}
	return info.AccountData.Sequence, nil
}

// ServerInfo returns the server state, load factor and validated ledger fee data
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var out ServerInfoResult
	if err := c.callInto(ctx, "server_info", nil, &out); err != nil {
		return nil, err
	}
	return &out.Info, nil
}

// ValidatedLedgerIndex returns the index of the latest validated ledger
func (c *Client) ValidatedLedgerIndex(ctx context.Context) (uint32, error) {
	var out LedgerResult
	err := c.callInto(ctx, "ledger", map[string]interface{}{
		"ledger_index": "validated",
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.LedgerIndex == 0 {
		return 0, fmt.Errorf("ledger: response carries no ledger_index")
	}
	return out.LedgerIndex, nil
}

// Submit submits a signed transaction blob
func (c *Client) Submit(ctx context.Context, txBlob string) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.callInto(ctx, "submit", map[string]interface{}{"tx_blob": txBlob}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tx looks up a transaction by hash. A transaction unknown to the server returns
// an ApplicationError with code txnNotFound.
func (c *Client) Tx(ctx context.Context, hash string) (*TxResult, error) {
	var out TxResult
	if err := c.callInto(ctx, "tx", map[string]interface{}{"transaction": hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountTx returns the validated transactions of an account within [minLedger, maxLedger],
// oldest first. -1 means the earliest or latest available ledger.
func (c *Client) AccountTx(ctx context.Context, account string, minLedger, maxLedger int64) ([]AccountTxEntry, error) {
	raw, err := c.Paginate(ctx, "account_tx", "transactions", map[string]interface{}{
		"account":          account,
		"ledger_index_min": minLedger,
		"ledger_index_max": maxLedger,
		"forward":          true,
		"limit":            pageLimit,
	})
	if err != nil {
		return nil, err
	}
	return decodeRecords[AccountTxEntry](raw)
}

// AccountLines returns the trust lines of an account, optionally filtered by peer
func (c *Client) AccountLines(ctx context.Context, account, peer string) ([]TrustLine, error) {
	params := map[string]interface{}{
		"account":      account,
		"ledger_index": "validated",
		"limit":        pageLimit,
	}
	if peer != "" {
		params["peer"] = peer
	}
	raw, err := c.Paginate(ctx, "account_lines", "lines", params)
	if err != nil {
		return nil, err
	}
	return decodeRecords[TrustLine](raw)
}

// AccountNFTs returns the NFTokens owned by an account
func (c *Client) AccountNFTs(ctx context.Context, account string) ([]NFToken, error) {
	raw, err := c.Paginate(ctx, "account_nfts", "account_nfts", map[string]interface{}{
		"account":      account,
		"ledger_index": "validated",
		"limit":        pageLimit,
	})
	if err != nil {
		return nil, err
	}
	return decodeRecords[NFToken](raw)
}

// AccountObjects returns the ledger objects owned by an account, optionally of one type
func (c *Client) AccountObjects(ctx context.Context, account, objectType string) ([]map[string]interface{}, error) {
	params := map[string]interface{}{
		"account":      account,
		"ledger_index": "validated",
		"limit":        pageLimit,
	}
	if objectType != "" {
		params["type"] = objectType
	}
	raw, err := c.Paginate(ctx, "account_objects", "account_objects", params)
	if err != nil {
		return nil, err
	}
	return decodeRecords[map[string]interface{}](raw)
}

// NFTBuyOffers returns the buy offers of an NFToken. No offers is not an error.
func (c *Client) NFTBuyOffers(ctx context.Context, nftID string) ([]NFTOffer, error) {
	return c.nftOffers(ctx, "nft_buy_offers", nftID)
}

// NFTSellOffers returns the sell offers of an NFToken. No offers is not an error.
func (c *Client) NFTSellOffers(ctx context.Context, nftID string) ([]NFTOffer, error) {
	return c.nftOffers(ctx, "nft_sell_offers", nftID)
}

func (c *Client) nftOffers(ctx context.Context, method, nftID string) ([]NFTOffer, error) {
	raw, err := c.Paginate(ctx, method, "offers", map[string]interface{}{
		"nft_id":       nftID,
		"ledger_index": "validated",
		"limit":        pageLimit,
	})
	if IsApplicationError(err, ErrCodeObjectNotFound) {
		return []NFTOffer{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecords[NFTOffer](raw)
}

func decodeRecords[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

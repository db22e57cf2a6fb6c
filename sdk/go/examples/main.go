package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"WalletBridge/sdk/go/walletbridge"
)

func main() {
	state := walletbridge.State{Status: "disconnected"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/connect", func(w http.ResponseWriter, r *http.Request) {
		state.Status = "connected"
		state.Session = walletbridge.Session{Account: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", ChainID: "0xaa36a7"}
		_ = json.NewEncoder(w).Encode(state)
	})
	mux.HandleFunc("/api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(walletbridge.SubmissionResult{
			ID:           "demo",
			TransferHash: "0x01",
			RecordHash:   "0x02",
			AmountWei:    "1500000000000000000",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := walletbridge.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.Connect(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("connected %s on %s\n", st.Session.Account, st.Session.ChainID)

	result, err := client.Send(ctx, walletbridge.Draft{AddressTo: "0xDEF", Amount: "1.5", Keyword: "gm", Message: "hello"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("recorded %s wei in %s\n", result.AmountWei, result.RecordHash)
}

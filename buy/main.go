// Load generator: a burst of concurrent buyers racing for one voucher.
// With stock N, exactly N requests should come back 200 and the rest 410.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

func main() {
	var wg sync.WaitGroup
	totalBuyers := 10000
	voucherID := 1

	var admitted, soldOut, rejected, failed atomic.Int64

	for i := 0; i < totalBuyers; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()

			url := fmt.Sprintf("http://localhost:8080/seckill?voucher_id=%d&user_id=%d", voucherID, buyer)
			resp, err := http.Post(url, "application/json", nil)
			if err != nil {
				failed.Add(1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				var result map[string]interface{}
				json.NewDecoder(resp.Body).Decode(&result)
				fmt.Printf("buyer %d admitted, order %v\n", buyer, result["orderId"])
				admitted.Add(1)
			case http.StatusGone:
				soldOut.Add(1)
			case http.StatusBadRequest:
				rejected.Add(1)
			default:
				failed.Add(1)
			}
		}(i)
	}

	wg.Wait()
	fmt.Printf("admitted=%d sold_out=%d rejected=%d failed=%d\n",
		admitted.Load(), soldOut.Load(), rejected.Load(), failed.Load())
}

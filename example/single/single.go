package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-zoox/keyproxy"
)

func main() {
	p, err := keyproxy.NewKeyRotation("http://127.0.0.1:8080", []string{"key-1", "key-2", "key-3"}, &keyproxy.KeyRotationConfig{
		OnRotate: func(prev, next int) {
			fmt.Printf("upstream rate limited key %d, now using key %d\n", prev, next)
		},
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println("Starting proxy at http://127.0.0.1:9999 ...")
	http.ListenAndServe(":9999", p)
}

// visit http://127.0.0.1:9999/v1/messages => http://127.0.0.1:8080/v1/messages (x-api-key: key-1)
// curl -v http://127.0.0.1:9999/v1/messages

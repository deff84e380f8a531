package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
)

// userParams validates the :id path parameter.
var userParams = contract.SchemaFunc(func(input any) (any, []contract.Issue) {
	params, ok := input.(map[string]string)
	if !ok {
		return nil, contract.Invalid("", "invalid_type", "expected path parameters")
	}
	if params["id"] == "" {
		return nil, contract.Invalid("id", "required", "id is required")
	}
	return params, nil
})

// createUserBody validates the POST body.
var createUserBody = contract.SchemaFunc(func(input any) (any, []contract.Issue) {
	body, ok := input.(map[string]any)
	if !ok {
		return nil, contract.Invalid("", "invalid_type", "expected a JSON object")
	}
	name, _ := body["name"].(string)
	if name == "" {
		return nil, contract.Invalid("name", "required", "name is required")
	}
	return body, nil
})

func main() {
	_ = godotenv.Load()

	c := contract.MustNew(
		contract.Endpoint{
			Name:   "getUser",
			Kind:   contract.KindStandard,
			Path:   "/users/:id",
			Params: userParams,
		},
		contract.Endpoint{
			Name:   "createUser",
			Kind:   contract.KindStandard,
			Method: "POST",
			Path:   "/users",
			Body:   createUserBody,
		},
	)

	d := dispatch.New(c)

	must(d.HandleStandard("getUser", func(ctx context.Context, in *dispatch.Input) (*dispatch.Response, error) {
		params := in.Params.(map[string]string)
		return &dispatch.Response{
			Body: map[string]any{"id": params["id"], "name": "Ada"},
		}, nil
	}))

	must(d.HandleStandard("createUser", func(ctx context.Context, in *dispatch.Input) (*dispatch.Response, error) {
		body := in.Body.(map[string]any)
		return &dispatch.Response{
			Status: http.StatusCreated,
			Body:   map[string]any{"id": "u-1", "name": body["name"]},
		}, nil
	}))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Listening on :%s", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%s", port), d); err != nil {
		log.Fatal(err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"identra/metadir/attributes"
	"identra/metadir/config"
	"identra/metadir/cycle"
	"identra/metadir/metaverse"
	"identra/metadir/metaverse/postgres"

	"github.com/google/uuid"
)

func main() {
	full := flag.Bool("full", false, "run a full import cycle instead of a delta")
	initSchema := flag.Bool("init-schema", false, "create the store tables before running")
	flag.Parse()

	ctx := context.Background()
	// postgres.ResetSchema(ctx, managementDSN, settings.DatabaseDSN, "metadir")

	settings := config.LoadEnvSettings("settings.env")

	store, err := postgres.Connect(ctx, settings.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if *initSchema {
		if err := store.InitSchema(ctx); err != nil {
			log.Fatalf("failed to initialize schema: %v", err)
		}
	}

	system := defaultSystem(settings)

	runner := &cycle.Runner{
		Settings: settings,
		Store:    store,
		System:   system,
	}

	summary, err := runner.Run(ctx, *full)
	if err != nil {
		log.Fatalf("cycle failed: %v", err)
	}

	errored := 0
	for _, record := range summary.Records {
		if record.ErrorType != "" {
			errored++
			log.Printf("record error for %s: %s: %s", record.DN, record.ErrorType, record.ErrorMessage)
		}
	}
	fmt.Printf("imported %d records (%d with errors)\n", len(summary.Records), errored)
}

// defaultSystem describes the connected system when no schema selection
// has been provisioned: users, groups and organizational units under the
// configured base DN.
func defaultSystem(settings config.Settings) *metaverse.ConnectedSystem {
	userAttrs := []metaverse.AttributeDefinition{
		{Name: "sAMAccountName", Kind: attributes.Text, IsExternalID: true},
		{Name: "cn", Kind: attributes.Text},
		{Name: "sn", Kind: attributes.Text},
		{Name: "givenName", Kind: attributes.Text},
		{Name: "mail", Kind: attributes.Text},
		{Name: "userAccountControl", Kind: attributes.Number},
		{Name: "objectGUID", Kind: attributes.GUID},
		{Name: "whenChanged", Kind: attributes.DateTime},
		{Name: "uSNChanged", Kind: attributes.LongNumber},
	}
	groupAttrs := []metaverse.AttributeDefinition{
		{Name: "cn", Kind: attributes.Text, IsExternalID: true},
		{Name: "member", Kind: attributes.Reference, Multivalued: true},
		{Name: "objectGUID", Kind: attributes.GUID},
		{Name: "uSNChanged", Kind: attributes.LongNumber},
	}
	ouAttrs := []metaverse.AttributeDefinition{
		{Name: "ou", Kind: attributes.Text, IsExternalID: true},
		{Name: "objectGUID", Kind: attributes.GUID},
		{Name: "uSNChanged", Kind: attributes.LongNumber},
	}

	return &metaverse.ConnectedSystem{
		ID:       uuid.NewSHA1(uuid.NameSpaceDNS, []byte(settings.Host)),
		Name:     settings.Host,
		BaseDN:   settings.BaseDN,
		PageSize: settings.PageSize,
		Containers: []metaverse.Container{
			{ID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte(settings.Host+"/"+settings.BaseDN)), DN: settings.BaseDN},
		},
		Types: []metaverse.ObjectType{
			{ID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte("user")), Name: "user", Attributes: userAttrs},
			{ID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte("group")), Name: "group", Attributes: groupAttrs},
			{ID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte("organizationalUnit")), Name: "organizationalUnit", Attributes: ouAttrs},
		},
	}
}

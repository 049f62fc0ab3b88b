package exporter

import (
	"context"
	"errors"
	"testing"

	"identra/metadir/attributes"
	"identra/metadir/config"
	"identra/metadir/metaverse"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	search func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	add    func(req *ldap.AddRequest) error
	modify func(req *ldap.ModifyRequest) error
	delete func(req *ldap.DelRequest) error
	rename func(req *ldap.ModifyDNRequest) error

	adds     []*ldap.AddRequest
	modifies []*ldap.ModifyRequest
	deletes  []*ldap.DelRequest
	renames  []*ldap.ModifyDNRequest
	searches []*ldap.SearchRequest
}

func (f *fakeClient) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.searches = append(f.searches, req)
	if f.search == nil {
		return &ldap.SearchResult{}, nil
	}
	return f.search(req)
}

func (f *fakeClient) Add(req *ldap.AddRequest) error {
	f.adds = append(f.adds, req)
	if f.add == nil {
		return nil
	}
	return f.add(req)
}

func (f *fakeClient) Modify(req *ldap.ModifyRequest) error {
	f.modifies = append(f.modifies, req)
	if f.modify == nil {
		return nil
	}
	return f.modify(req)
}

func (f *fakeClient) Delete(req *ldap.DelRequest) error {
	f.deletes = append(f.deletes, req)
	if f.delete == nil {
		return nil
	}
	return f.delete(req)
}

func (f *fakeClient) Rename(req *ldap.ModifyDNRequest) error {
	f.renames = append(f.renames, req)
	if f.rename == nil {
		return nil
	}
	return f.rename(req)
}

func (f *fakeClient) Close() error { return nil }

func newChange(name string, changeType metaverse.AttributeChangeType, value attributes.Value) *metaverse.AttributeValueChange {
	return &metaverse.AttributeValueChange{
		ID:         uuid.New(),
		Name:       name,
		ChangeType: changeType,
		Value:      value,
		Status:     metaverse.ChangePending,
	}
}

func newPending(changeType metaverse.ExportChangeType, changes ...*metaverse.AttributeValueChange) *metaverse.PendingExport {
	return &metaverse.PendingExport{
		ID:         uuid.New(),
		ObjectID:   uuid.New(),
		ChangeType: changeType,
		Status:     metaverse.ExportPending,
		Changes:    changes,
	}
}

func TestExportCreateProvisionsMissingContainers(t *testing.T) {
	serverGUID := uuid.New()
	client := &fakeClient{}
	client.search = func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if req.BaseDN == "CN=Jane,OU=Eng,OU=Users,DC=example,DC=com" {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				ldap.NewEntry(req.BaseDN, map[string][]string{
					"objectGUID": {string(attributes.GUIDToWire(serverGUID))},
				}),
			}}, nil
		}
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}

	settings := config.Settings{CreateContainers: true}
	engine := New(client, settings)

	pending := newPending(metaverse.ExportCreate,
		newChange(IdentifierAttribute, metaverse.AttributeAdd, attributes.NewText("CN=Jane,OU=Eng,OU=Users,DC=example,DC=com")),
		newChange("objectClass", metaverse.AttributeAdd, attributes.NewText("user")),
		newChange("sAMAccountName", metaverse.AttributeAdd, attributes.NewText("jdoe")),
	)

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Succeeded)

	// The two missing organizational units are created root-to-leaf, then
	// the object itself.
	require.Len(t, client.adds, 3)
	assert.Equal(t, "OU=Users,DC=example,DC=com", client.adds[0].DN)
	assert.Equal(t, "OU=Eng,OU=Users,DC=example,DC=com", client.adds[1].DN)
	assert.Equal(t, "CN=Jane,OU=Eng,OU=Users,DC=example,DC=com", client.adds[2].DN)

	ouAdd := client.adds[0]
	require.NotEmpty(t, ouAdd.Attributes)
	assert.Equal(t, []string{"organizationalUnit"}, ouAdd.Attributes[0].Vals)

	// Existence probing stops at the domain components.
	for _, req := range client.searches {
		assert.NotEqual(t, "DC=example,DC=com", req.BaseDN)
	}

	require.NotNil(t, results[0].ServerGUID)
	assert.Equal(t, serverGUID, *results[0].ServerGUID)

	assert.Equal(t, metaverse.ExportExported, pending.Status)
	assert.Equal(t, "CN=Jane,OU=Eng,OU=Users,DC=example,DC=com", pending.ObjectDN)
	for _, change := range pending.Changes {
		assert.Equal(t, metaverse.ChangeExportedPendingConfirmation, change.Status)
		assert.Equal(t, 1, change.ExportAttemptCount)
	}
}

func TestExportCreateSkipsProvisioningWhenDisabled(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{CreateContainers: false})

	pending := newPending(metaverse.ExportCreate,
		newChange(IdentifierAttribute, metaverse.AttributeAdd, attributes.NewText("CN=Jane,OU=Missing,DC=example,DC=com")),
		newChange("objectClass", metaverse.AttributeAdd, attributes.NewText("user")),
	)

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	require.Len(t, client.adds, 1, "only the object itself is added")
	assert.Equal(t, "CN=Jane,OU=Missing,DC=example,DC=com", client.adds[0].DN)
}

func TestExportCreateVerifiedContainerCacheSkipsReprobe(t *testing.T) {
	client := &fakeClient{}
	client.search = func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry(req.BaseDN, nil),
		}}, nil
	}
	engine := New(client, config.Settings{CreateContainers: true})

	first := newPending(metaverse.ExportCreate,
		newChange(IdentifierAttribute, metaverse.AttributeAdd, attributes.NewText("CN=A,OU=Eng,DC=example,DC=com")),
		newChange("objectClass", metaverse.AttributeAdd, attributes.NewText("user")),
	)
	second := newPending(metaverse.ExportCreate,
		newChange(IdentifierAttribute, metaverse.AttributeAdd, attributes.NewText("CN=B,OU=Eng,DC=example,DC=com")),
		newChange("objectClass", metaverse.AttributeAdd, attributes.NewText("user")),
	)

	engine.ExportBatch(context.Background(), []*metaverse.PendingExport{first, second})

	var probes int
	for _, req := range client.searches {
		if req.BaseDN == "OU=Eng,DC=example,DC=com" {
			probes++
		}
	}
	assert.Equal(t, 1, probes, "a verified container is not probed again within the session")
}

func TestExportUpdateRenamesThenModifies(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{})

	pending := newPending(metaverse.ExportUpdate,
		newChange(IdentifierAttribute, metaverse.AttributeUpdate, attributes.NewText("CN=Jane,OU=B,DC=example,DC=com")),
		newChange("displayName", metaverse.AttributeUpdate, attributes.NewText("Jane D")),
		newChange("cn", metaverse.AttributeUpdate, attributes.NewText("Jane")),
	)
	pending.ObjectDN = "CN=Jane,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	require.Len(t, client.renames, 1)
	rename := client.renames[0]
	assert.Equal(t, "CN=Jane,OU=A,DC=example,DC=com", rename.DN)
	assert.Equal(t, "CN=Jane", rename.NewRDN)
	assert.Equal(t, "OU=B,DC=example,DC=com", rename.NewSuperior)
	assert.True(t, rename.DeleteOldRDN)

	require.Len(t, client.modifies, 1)
	modify := client.modifies[0]
	assert.Equal(t, "CN=Jane,OU=B,DC=example,DC=com", modify.DN, "modifications target the post-rename identifier")

	require.Len(t, modify.Changes, 1, "identifier and RDN attributes never travel in the modify")
	assert.Equal(t, "displayName", modify.Changes[0].Modification.Type)
	assert.Equal(t, []string{"Jane D"}, modify.Changes[0].Modification.Vals)

	assert.Equal(t, "CN=Jane,OU=B,DC=example,DC=com", results[0].NewDN)
	assert.Equal(t, "CN=Jane,OU=B,DC=example,DC=com", pending.ObjectDN)
}

func TestExportUpdateSameParentIsPureRename(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{})

	pending := newPending(metaverse.ExportUpdate,
		newChange(IdentifierAttribute, metaverse.AttributeUpdate, attributes.NewText("CN=Janet,OU=A,DC=example,DC=com")),
	)
	pending.ObjectDN = "CN=Jane,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.NoError(t, results[0].Err)

	require.Len(t, client.renames, 1)
	assert.Equal(t, "CN=Janet", client.renames[0].NewRDN)
	assert.Empty(t, client.renames[0].NewSuperior, "same parent means no new superior")
	assert.Empty(t, client.modifies, "no remaining attribute changes")
}

func TestExportUpdateDuplicateAddIsBenign(t *testing.T) {
	client := &fakeClient{}
	client.modify = func(req *ldap.ModifyRequest) error {
		return ldap.NewError(ldap.LDAPResultAttributeOrValueExists, errors.New("value exists"))
	}
	engine := New(client, config.Settings{})

	pending := newPending(metaverse.ExportUpdate,
		newChange("memberOf", metaverse.AttributeAdd, attributes.NewText("CN=Staff,OU=Groups,DC=example,DC=com")),
	)
	pending.ObjectDN = "CN=Jane,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err, "an already-present value satisfies the add")
	assert.True(t, results[0].Succeeded)

	// Batched attempt plus one individual re-apply.
	assert.Len(t, client.modifies, 2)
	assert.Equal(t, metaverse.ChangeExportedPendingConfirmation, pending.Changes[0].Status)
}

func TestExportUpdateRemoveAllReplacesWithEmpty(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{})

	pending := newPending(metaverse.ExportUpdate,
		newChange("description", metaverse.AttributeRemoveAll, attributes.NewText("")),
	)
	pending.ObjectDN = "CN=Jane,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.NoError(t, results[0].Err)

	require.Len(t, client.modifies, 1)
	change := client.modifies[0].Changes[0]
	assert.EqualValues(t, ldap.ReplaceAttribute, change.Operation)
	assert.Empty(t, change.Modification.Vals)
}

func TestExportDeleteHonoursDisablePolicy(t *testing.T) {
	client := &fakeClient{}
	client.search = func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry(req.BaseDN, map[string][]string{
				"userAccountControl": {"512"},
			}),
		}}, nil
	}
	engine := New(client, config.Settings{
		DeleteBehaviour:  config.DeleteDisable,
		DisableAttribute: "userAccountControl",
	})

	pending := newPending(metaverse.ExportDelete,
		newChange(IdentifierAttribute, metaverse.AttributeRemove, attributes.NewText("CN=Jane,OU=A,DC=example,DC=com")),
	)

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.NoError(t, results[0].Err)

	assert.Empty(t, client.deletes, "disable policy never removes the object")
	require.Len(t, client.modifies, 1)
	change := client.modifies[0].Changes[0]
	assert.Equal(t, "userAccountControl", change.Modification.Type)
	assert.Equal(t, []string{"514"}, change.Modification.Vals, "disable bit is ORed in, other flags survive")
}

func TestExportDeleteDisableStartsFreshBitmaskWhenAbsent(t *testing.T) {
	client := &fakeClient{}
	client.search = func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		return &ldap.SearchResult{Entries: []*ldap.Entry{
			ldap.NewEntry(req.BaseDN, nil),
		}}, nil
	}
	engine := New(client, config.Settings{
		DeleteBehaviour:  config.DeleteDisable,
		DisableAttribute: "userAccountControl",
	})

	pending := newPending(metaverse.ExportDelete,
		newChange(IdentifierAttribute, metaverse.AttributeRemove, attributes.NewText("CN=Bare,OU=A,DC=example,DC=com")),
	)

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.NoError(t, results[0].Err)

	require.Len(t, client.modifies, 1)
	change := client.modifies[0].Changes[0]
	assert.Equal(t, []string{"2"}, change.Modification.Vals, "an absent bitmask starts from zero")
}

func TestExportDeleteRemovesObjectByDefault(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{DeleteBehaviour: config.DeleteHard})

	pending := newPending(metaverse.ExportDelete,
		newChange(IdentifierAttribute, metaverse.AttributeRemove, attributes.NewText("CN=Jane,OU=A,DC=example,DC=com")),
	)

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{pending})
	require.NoError(t, results[0].Err)

	require.Len(t, client.deletes, 1)
	assert.Equal(t, "CN=Jane,OU=A,DC=example,DC=com", client.deletes[0].DN)
}

func TestExportBatchIsolatesFailures(t *testing.T) {
	client := &fakeClient{}
	client.delete = func(req *ldap.DelRequest) error {
		return ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied"))
	}
	engine := New(client, config.Settings{DeleteBehaviour: config.DeleteHard})

	failing := newPending(metaverse.ExportDelete,
		newChange(IdentifierAttribute, metaverse.AttributeRemove, attributes.NewText("CN=Gone,OU=A,DC=example,DC=com")),
	)
	healthy := newPending(metaverse.ExportUpdate,
		newChange("displayName", metaverse.AttributeUpdate, attributes.NewText("Still Here")),
	)
	healthy.ObjectDN = "CN=Here,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(context.Background(), []*metaverse.PendingExport{failing, healthy})
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err)
	assert.Equal(t, metaverse.ExportFailed, failing.Status)

	require.NoError(t, results[1].Err)
	assert.True(t, results[1].Succeeded)
	assert.Equal(t, metaverse.ExportExported, healthy.Status)
}

func TestExportBatchStopsOnCancel(t *testing.T) {
	client := &fakeClient{}
	engine := New(client, config.Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pending := newPending(metaverse.ExportUpdate,
		newChange("displayName", metaverse.AttributeUpdate, attributes.NewText("x")),
	)
	pending.ObjectDN = "CN=Jane,OU=A,DC=example,DC=com"

	results := engine.ExportBatch(ctx, []*metaverse.PendingExport{pending})
	assert.Empty(t, results, "cancellation is honoured between operations")
	assert.Equal(t, metaverse.ExportPending, pending.Status, "untouched work stays pending")
}

// Package mongo implements store.Store on MongoDB using the official v2
// driver.
//
// Claims are a single FindOneAndUpdate, so concurrent workers never receive
// the same job. Watch opens a change stream filtered by job type, which
// requires a replica set or sharded cluster.
//
// The caller owns the client lifecycle; the store never disconnects it:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	store := mongostore.New(client.Database("app"))
//	store.Migrate(ctx)
package mongo

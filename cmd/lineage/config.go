package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/bobg/lineage"
	"github.com/bobg/lineage/dag"
	"github.com/bobg/lineage/index/pg"
	"github.com/bobg/lineage/index/sqlite3"
	"github.com/bobg/lineage/store"
	"github.com/bobg/lineage/store/compress"
	"github.com/bobg/lineage/store/file"
	"github.com/bobg/lineage/store/gcs"
	"github.com/bobg/lineage/store/logging"
	"github.com/bobg/lineage/store/lru"
	"github.com/bobg/lineage/store/mem"
)

const (
	configFileName = "lineage"
	envPrefix      = "LINEAGE"

	cfgKeyType      = "type"
	cfgKeyRoot      = "root"
	cfgKeyBucket    = "bucket"
	cfgKeyCreds     = "creds"
	cfgKeyPrefix    = "prefix"
	cfgKeyCache     = "cache"
	cfgKeyCompress  = "compress"
	cfgKeyLog       = "log"
	cfgKeyIndex     = "index"
	cfgKeyJSONTypes = "json_types"

	defaultType = "file"
	defaultRoot = ".lineage"
)

// loadConfig reads the config file at path,
// or lineage.{yaml,json,...} in the current directory if path is empty.
// A missing default config file is not an error.
// Settings can be overridden by LINEAGE_-prefixed environment variables,
// e.g. LINEAGE_ROOT.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyType, defaultType)
	v.SetDefault(cfgKeyRoot, defaultRoot)
	v.SetDefault(cfgKeyCache, 0)
	v.SetDefault(cfgKeyLog, false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{cfgKeyBucket, cfgKeyCreds, cfgKeyPrefix, cfgKeyCompress, cfgKeyJSONTypes, cfgKeyIndex + ".type", cfgKeyIndex + ".conn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "binding environment variable for %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return v, nil
		}
		return nil, errors.Wrap(err, "reading config")
	}
	return v, nil
}

// backendFromConfig creates the backend described by v.
// The "type" setting selects the backend;
// the whole config is passed to its constructor,
// which picks out the settings it needs.
// A non-empty "compress" setting ("flate" or "lzw") compresses data at rest,
// a positive "cache" setting adds an LRU cache of that many items,
// and a true "log" setting logs every backend operation.
func backendFromConfig(ctx context.Context, v *viper.Viper, logger zerolog.Logger) (lineage.Backend, error) {
	r := store.NewRegistry()
	compress.Register(r)
	file.Register(r)
	gcs.Register(r)
	lru.Register(r)
	logging.Register(r, logger)
	mem.Register(r)

	typ := v.GetString(cfgKeyType)
	conf := v.AllSettings()
	conf[cfgKeyType] = typ
	conf[cfgKeyRoot] = v.GetString(cfgKeyRoot)
	for _, key := range []string{cfgKeyBucket, cfgKeyCreds, cfgKeyPrefix} {
		if v.IsSet(key) {
			conf[key] = v.GetString(key)
		}
	}

	b, err := r.Create(ctx, typ, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s-type backend", typ)
	}

	if alg := v.GetString(cfgKeyCompress); alg != "" {
		c, err := compress.Named(alg)
		if err != nil {
			return nil, err
		}
		b = compress.New(b, c)
	}
	if size := v.GetInt(cfgKeyCache); size > 0 {
		cached, err := lru.New(b, size)
		if err != nil {
			return nil, errors.Wrap(err, "creating cache")
		}
		b = cached
	}
	if v.GetBool(cfgKeyLog) {
		b = logging.New(b, logger)
	}
	return b, nil
}

// indexFromConfig opens the persistent derivation index described by the "index" settings,
// or returns nil if there is none.
func indexFromConfig(ctx context.Context, v *viper.Viper) (dag.Index, error) {
	var (
		typ  = v.GetString(cfgKeyIndex + ".type")
		conf = map[string]interface{}{"conn": v.GetString(cfgKeyIndex + ".conn")}
	)
	switch typ {
	case "", "mem":
		return nil, nil
	case "sqlite3":
		return sqlite3.Open(ctx, conf)
	case "pg":
		return pg.Open(ctx, conf)
	}
	return nil, errors.Errorf("unknown index type %s", typ)
}

// Package bamprovider reads PacBio BAM files through their .pbi indexes.
//
// IndexedReader reads the records of one file selected by a pbi.Filter,
// seeking once per run of consecutive rows. CompositeReader merges several
// Iterators into one stream, and the query constructors combine the two for
// a list of files. GroupQuery turns an Iterator into a stream of runs of
// records that share a key, such as the ZMW they were sequenced from.
package bamprovider

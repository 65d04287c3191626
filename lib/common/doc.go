// Package common holds the pieces shared by the objgraph command line and
// the libraries behind it: the logger factory installed into dragonboat's
// logger package and the configuration of a codec session.
package common

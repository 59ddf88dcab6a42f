/*
Package r5tu implements a compact container format for RDF quads tagged
with a provenance id. Quads sharing a (provenance id, graph name) pair
are grouped into graphs which are stored as individual sections and
can be enumerated or read back without decoding the rest of the file.

Data Structure Documentation

File

A file contains a fixed-size header, a series of graph sections, a
single index section and a table of contents (TOC). The header is
written last, once the TOC position is known. All integers are little
endian.

    File layout:
    +--------+---------+---------+---------+---------------+-----+
    | header | graph 0 |   ...   | graph n | index section | TOC |
    +--------+---------+---------+---------+---------------+-----+

    Header (32 bytes):
    +------------+-----------+-----------+-------------+--------------+--------------+------------+
    | magic (4)  | version   | flags     | created     | TOC offset   | TOC length   | reserved   |
    | "R5TU"     | (2 bytes) | (2 bytes) | (8 bytes)   | (8 bytes)    | (4 bytes)    | (4 bytes)  |
    +------------+-----------+-----------+-------------+--------------+--------------+------------+

    Flags:
    bit 0     sections carry CRC-32 checksums
    bit 1     sections are compressed
    bits 2-3  compression codec: 0 zstd, 1 snappy, 2 lz4
    others    reserved, ignored on read

    TOC entry (24 bytes):
    +------------------+--------------------+-------------------+-------------------+------------------+
    | kind (2 bytes)   | reserved (2 bytes) | offset (8 bytes)  | length (8 bytes)  | crc32 (4 bytes)  |
    +------------------+--------------------+-------------------+-------------------+------------------+

Section

Sections are stored as is or, when compression is enabled, as the raw
length followed by the compressed payload. The checksum covers the
stored bytes and can be verified without decompression.

    Compressed section:
    +-------------------------+--------------------+
    | raw length (varint)     | compressed payload |
    +-------------------------+--------------------+

Graph section

A graph section is a series of triples in insertion order, each term
encoded as a tag byte followed by length-prefixed strings.

    +--------------+-------------+--------------+-------+
    | subject term | predicate   | object term  |  ...  |
    +--------------+-------------+--------------+-------+

    Term:
    +--------------+-------------------------+-----------------+---------------------------------------+
    | tag (1 byte) | value length (varint)   | value (varlen)  | datatype/language (literals only)     |
    +--------------+-------------------------+-----------------+---------------------------------------+

Index section

The index stores the provenance id and graph name once per graph.

    +-----------------+--------------+-----------+-------------------+-----------------------+-------+
    | count (varint)  | gid (varint) | id (str)  | graph name (str)  | triple count (varint) |  ...  |
    +-----------------+--------------+-----------+-------------------+-----------------------+-------+
*/
package r5tu
